package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand("1.2.3", "abc", "today")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(bytes.NewReader(nil))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.wv")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRunPrintsResult(t *testing.T) {
	path := writeProgram(t, `
def double(x) { return x * 2 }
def add_ten(x) { return x + 10 }
def triple(x) { return x * 3 }
def sum_list(xs) { return sum(xs) }
print(len(system:args))
5 | double | [add_ten, triple] | sum_list
`)
	out, _, err := execute(t, "run", path, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "2\n50\n", out)
}

func TestRunRendersFailures(t *testing.T) {
	path := writeProgram(t, "x = 1\nmissing(x)\n")
	_, _, err := execute(t, "run", "--calls", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DispatchError")
	assert.Contains(t, err.Error(), "main.wv at 2:1")
}

func TestRunReadsConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.wv"), []byte("def hi() { return \"hi\" }\n"), 0o644))
	cfgPath := filepath.Join(dir, "weave.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("runtime:\n  root: "+dir+"\n  debug_json_ast: true\n"), 0o644))
	path := writeProgram(t, "import lib\nlib.hi()\n")

	out, _, err := execute(t, "run", "-c", cfgPath, path)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)
	assert.FileExists(t, path+".ast.json")

	_, _, err = execute(t, "run", "--failure-policy", "sometimes", path)
	assert.ErrorContains(t, err, "unknown failure policy")
}

func TestRunReportsLearnedStats(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "weave.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[poet]\nlearn = true\n"), 0o644))
	path := writeProgram(t, `
@poet(train=true)
def id(x) { return x }
id(1)
id(2)
`)
	out, errOut, err := execute(t, "run", "--calls", "-c", cfgPath, path)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
	assert.Contains(t, errOut, "learned id: calls=2 retried=0")
	assert.Contains(t, errOut, "suggested_timeout=")
}

func TestASTCommand(t *testing.T) {
	path := writeProgram(t, "x = 1 | double\n")
	out, _, err := execute(t, "ast", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"Program"`)

	_, _, err = execute(t, "ast", writeProgram(t, "def (\n"))
	assert.ErrorContains(t, err, "SyntaxError")
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "weave version 'v1.2.3' today abc\n", out)
}

func TestReplCommandWithEmptyInput(t *testing.T) {
	out, _, err := execute(t, "repl")
	require.NoError(t, err)
	assert.Equal(t, ">> ", out)
}
