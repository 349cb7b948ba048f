// Command classify labels images with ONNX or linear models and drives the
// on-device training bridge.
//
// Usage:
//
//	classify predict -model mobilenet.onnx [-config classify.yaml] [-top 5] [-timeout 10s] image...
//	classify inspect -model mobilenet.onnx [-config classify.yaml]
//	classify bench -model mobilenet.onnx [-iterations 100] [-warmup 5] [-out results] image|dir...
//	classify train -dataset ./photos [-timeout 30m]
//	classify infer -image cat.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvr-ai/go-classify/benchmark"
	"github.com/nvr-ai/go-classify/config"
	"github.com/nvr-ai/go-classify/labels"
	"github.com/nvr-ai/go-classify/trainer"
	"github.com/nvr-ai/go-classify/util"
	"github.com/sirupsen/logrus"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "predict":
		return predict(args[1:], stdout, stderr)
	case "inspect":
		return inspect(args[1:], stdout, stderr)
	case "bench":
		return bench(args[1:], stdout, stderr)
	case "train":
		return train(args[1:], stdout, stderr)
	case "infer":
		return infer(args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: classify <predict|inspect|bench|train|infer> [flags]")
}

// setup loads the configuration and builds the logger for a subcommand.
func setup(configPath string, stderr io.Writer) (config.Config, *logrus.Logger, error) {
	bootstrap := logrus.New()
	bootstrap.SetOutput(stderr)
	cfg, err := config.LoadWithLogger(configPath, bootstrap)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return config.Config{}, nil, err
	}
	log.SetOutput(stderr)
	return cfg, log, nil
}

func withTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}

func predict(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		modelPath  string
		top        int
		timeout    time.Duration
	)
	fs.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&modelPath, "model", "", "Path to the model (.onnx, .yaml)")
	fs.IntVar(&top, "top", 1, "Number of classes to print per image")
	fs.DurationVar(&timeout, "timeout", 0, "Give up on remaining images after this long (0 disables)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if modelPath == "" || fs.NArg() == 0 || top < 1 {
		fmt.Fprintln(stderr, "predict needs -model, -top >= 1 and at least one image")
		return exitUsage
	}

	cfg, log, err := setup(configPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}
	engine, err := cfg.NewEngine(log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.WithError(err).Warn("closing engine")
		}
	}()

	imagePaths, err := util.ExpandImagePaths(fs.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}

	ctx, cancel := withTimeout(timeout)
	defer cancel()

	code := exitOK
	for _, imagePath := range imagePaths {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			code = exitFail
			continue
		}

		result, err := engine.Classify(ctx, data, modelPath)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", imagePath, err)
			code = exitFail
			continue
		}

		prefix := ""
		if len(imagePaths) > 1 {
			prefix = imagePath + ": "
		}
		if top == 1 {
			fmt.Fprintf(stdout, "%s%s\n", prefix, result)
			continue
		}
		if prefix != "" {
			fmt.Fprintln(stdout, imagePath)
		}
		for _, p := range result.Top(top) {
			fmt.Fprintf(stdout, "  %s\n", p)
		}
	}
	return code
}

func inspect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	modelPath := fs.String("model", "", "Path to the model (.onnx, .yaml)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *modelPath == "" {
		fmt.Fprintln(stderr, "inspect needs -model")
		return exitUsage
	}

	cfg, log, err := setup(*configPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}
	engine, err := cfg.NewEngine(log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}
	defer engine.Close()

	h, err := engine.Cache().GetOrLoad(*modelPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}

	fmt.Fprintf(stdout, "model:  %s\n", h.Path())
	fmt.Fprintf(stdout, "input:  %s %v\n", h.InputName(), h.InputShape())
	fmt.Fprintf(stdout, "output: %s\n", h.OutputName())

	table, ok, err := labels.Resolve(*modelPath)
	switch {
	case err != nil:
		fmt.Fprintln(stderr, err)
		return exitFail
	case ok:
		fmt.Fprintf(stdout, "labels: %d\n", len(table))
	default:
		fmt.Fprintln(stdout, "labels: none")
	}
	return exitOK
}

func bench(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	modelPath := fs.String("model", "", "Path to the model (.onnx, .yaml)")
	iterations := fs.Int("iterations", 100, "Measured iterations")
	warmup := fs.Int("warmup", 5, "Unmeasured warmup iterations")
	outputDir := fs.String("out", "benchmark_results", "Directory for the JSON and CSV results")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *modelPath == "" || fs.NArg() == 0 || *iterations < 1 {
		fmt.Fprintln(stderr, "bench needs -model, -iterations >= 1 and at least one image or directory")
		return exitUsage
	}

	cfg, log, err := setup(*configPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}
	engine, err := cfg.NewEngine(log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}
	defer engine.Close()

	suite := benchmark.NewSuite(engine, *outputDir, log)
	for _, p := range fs.Args() {
		if err := suite.LoadTestImages(p); err != nil {
			fmt.Fprintln(stderr, err)
			return exitFail
		}
	}
	suite.AddScenario(benchmark.Scenario{
		Name:       filepath.Base(*modelPath),
		ModelPath:  *modelPath,
		Iterations: *iterations,
		WarmupRuns: *warmup,
	})
	if err := suite.RunAllScenarios(context.Background()); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFail
	}

	results := suite.GetResults()
	if len(results) == 0 {
		fmt.Fprintln(stderr, "benchmark produced no results")
		return exitFail
	}
	for _, r := range results {
		fmt.Fprintf(stdout, "%s: %.2f fps, mean %v, p95 %v, errors %.1f%%\n",
			r.Scenario.Name, r.FramesPerSecond, r.MeanLatency, r.P95Latency, r.ErrorRate*100)
	}
	return exitOK
}

func train(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataset := fs.String("dataset", "", "Directory of training images")
	timeout := fs.Duration("timeout", 0, "Stop waiting after this long (0 disables)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *dataset == "" {
		fmt.Fprintln(stderr, "train needs -dataset")
		return exitUsage
	}

	ctx, cancel := withTimeout(*timeout)
	defer cancel()
	return report(trainer.New().Train(ctx, *dataset), stdout, stderr)
}

func infer(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("infer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	image := fs.String("image", "", "Image to classify with the trained model")
	timeout := fs.Duration("timeout", 0, "Stop waiting after this long (0 disables)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *image == "" {
		fmt.Fprintln(stderr, "infer needs -image")
		return exitUsage
	}

	ctx, cancel := withTimeout(*timeout)
	defer cancel()
	return report(trainer.New().Infer(ctx, *image), stdout, stderr)
}

func report(r trainer.Result, stdout, stderr io.Writer) int {
	if r.Status == trainer.Available {
		fmt.Fprintln(stdout, r.Message)
		return exitOK
	}
	fmt.Fprintln(stderr, r.Message)
	return exitFail
}
