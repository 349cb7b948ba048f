package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture writes a three-class linear model with labels and a PNG image.
func fixture(t *testing.T) (dir, model, img string) {
	t.Helper()
	dir = t.TempDir()

	model = filepath.Join(dir, "linear.yaml")
	require.NoError(t, os.WriteFile(model, []byte(
		"input: {name: x, shape: [1, 3, 4, 4]}\noutput: y\nweights: [[0, 0, 0], [0, 0, 0], [0, 0, 0]]\nbias: [0, 2, 1]\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "linear.labels.txt"), []byte("cat\ndog\nfox\n"), 0o600))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 6, 6))))
	img = filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(img, buf.Bytes(), 0o600))
	return dir, model, img
}

func runCLI(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestPredict(t *testing.T) {
	_, model, img := fixture(t)

	code, stdout, stderr := runCLI("predict", "-model", model, img)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "dog: 66.5%\n", stdout)
}

func TestPredictTopAndMultipleImages(t *testing.T) {
	_, model, img := fixture(t)

	code, stdout, stderr := runCLI("predict", "-model", model, "-top", "2", img, img)
	require.Equal(t, exitOK, code, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, img, lines[0])
	assert.Equal(t, "  dog: 66.5%", lines[1])
	assert.Equal(t, "  fox: 24.5%", lines[2])
}

func TestPredictReportsFailuresAndContinues(t *testing.T) {
	dir, model, img := fixture(t)
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o600))

	code, stdout, stderr := runCLI("predict", "-model", model, bad, img)
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "decode image")
	assert.Equal(t, img+": dog: 66.5%\n", stdout)
}

func TestPredictWarnsOnMissingConfig(t *testing.T) {
	dir, model, img := fixture(t)
	missing := filepath.Join(dir, "clasify.yaml")

	code, stdout, stderr := runCLI("predict", "-config", missing, "-model", model, img)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "dog: 66.5%\n", stdout)
	assert.Contains(t, stderr, "config file not found")
	assert.Contains(t, stderr, missing)
}

func TestPredictUsage(t *testing.T) {
	code, _, _ := runCLI("predict", "-model", "m.onnx")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCLI("predict", "-top", "0", "-model", "m.onnx", "a.jpg")
	assert.Equal(t, exitUsage, code)
}

func TestInspect(t *testing.T) {
	_, model, _ := fixture(t)

	code, stdout, stderr := runCLI("inspect", "-model", model)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "input:  x [1 3 4 4]")
	assert.Contains(t, stdout, "output: y")
	assert.Contains(t, stdout, "labels: 3")
}

func TestInspectMissingModel(t *testing.T) {
	code, _, stderr := runCLI("inspect", "-model", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "load model")
}

func TestTrainAndInferUnsupported(t *testing.T) {
	code, _, stderr := runCLI("train", "-dataset", t.TempDir())
	assert.Equal(t, exitFail, code)
	assert.Equal(t, "Training only supported on Android\n", stderr)

	code, _, stderr = runCLI("infer", "-image", "cat.jpg")
	assert.Equal(t, exitFail, code)
	assert.Equal(t, "Inference only supported on Android\n", stderr)
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI("serve")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "serve"`)

	code, _, _ = runCLI()
	assert.Equal(t, exitUsage, code)
}

func TestPredictDirectory(t *testing.T) {
	dir, model, _ := fixture(t)

	code, stdout, stderr := runCLI("predict", "-model", model, dir)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "dog: 66.5%\n", stdout, "only the image file in the directory is classified")
}

func TestBench(t *testing.T) {
	_, model, img := fixture(t)
	out := filepath.Join(t.TempDir(), "results")

	code, stdout, stderr := runCLI("bench", "-model", model, "-iterations", "3", "-warmup", "1", "-out", out, img)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "linear.yaml: ")
	assert.Contains(t, stdout, "errors 0.0%")

	files, err := filepath.Glob(filepath.Join(out, "benchmark_*"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
