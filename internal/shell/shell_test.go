package shell

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tinyrange/pikernel/internal/process"
)

// fakeConsole is an in-memory Console: Feed queues bytes for ReadByte,
// and every written byte lands in out.
type fakeConsole struct {
	out bytes.Buffer
	rx  []byte
}

func (c *fakeConsole) Feed(s string) { c.rx = append(c.rx, []byte(s)...) }

func (c *fakeConsole) WriteByte(b byte) error { return c.out.WriteByte(b) }
func (c *fakeConsole) Write(p []byte) (int, error) { return c.out.Write(p) }
func (c *fakeConsole) ReadByte() (byte, bool) {
	if len(c.rx) == 0 {
		return 0, false
	}
	b := c.rx[0]
	c.rx = c.rx[1:]
	return b, true
}

type fakeFile struct {
	name string
	r    *bytes.Reader
}

func (f *fakeFile) Size() uint64            { return uint64(f.r.Len()) }
func (f *fakeFile) Read(p []byte) (int, error) { return f.r.Read(p) }

type fakeFS struct {
	dirs  map[string][]DirEntry
	files map[string]string
}

func (f *fakeFS) ReadDir(path string) ([]DirEntry, error) {
	entries, ok := f.dirs[path]
	if !ok {
		return nil, errNotFound(path)
	}
	return entries, nil
}

func (f *fakeFS) Open(path string) (process.FileEntry, error) {
	contents, ok := f.files[path]
	if !ok {
		return nil, errNotFound(path)
	}
	return &fakeFile{name: path, r: bytes.NewReader([]byte(contents))}, nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) + ": no such file or directory" }
func errNotFound(path string) error   { return notFoundError(path) }

func newFixture() *fakeFS {
	return &fakeFS{
		dirs: map[string][]DirEntry{
			"/":     {{Name: "FIB.BIN", Size: 192}, {Name: "DOCS", Dir: true}},
			"/DOCS": {{Name: "README.TXT", Size: 11}},
		},
		files: map[string]string{
			"/README.TXT":      "top level\n",
			"/DOCS/README.TXT": "hello world",
		},
	}
}

func runShell(t *testing.T, input string) (*fakeConsole, *Shell) {
	t.Helper()
	c := &fakeConsole{}
	c.Feed(input)
	sh := New(c, newFixture(), "> ")
	sh.Run()
	return c, sh
}

func TestEchoPrintsArguments(t *testing.T) {
	c, _ := runShell(t, "echo hello world\nexit\n")
	if !strings.Contains(c.out.String(), "\r\nhello world\r\n") {
		t.Fatalf("output = %q, want to contain %q", c.out.String(), "\r\nhello world\r\n")
	}
}

func TestPwdReportsRoot(t *testing.T) {
	c, _ := runShell(t, "pwd\nexit\n")
	if !strings.Contains(c.out.String(), "/\r\n") {
		t.Fatalf("output = %q, want to contain pwd of /", c.out.String())
	}
}

func TestLsListsRootEntries(t *testing.T) {
	c, _ := runShell(t, "ls\nexit\n")
	out := c.out.String()
	if !strings.Contains(out, "FIB.BIN") || !strings.Contains(out, "DOCS/") {
		t.Fatalf("ls output = %q, want FIB.BIN and DOCS/", out)
	}
}

func TestCdThenLsShowsSubdirectory(t *testing.T) {
	c, _ := runShell(t, "cd DOCS\nls\nexit\n")
	if !strings.Contains(c.out.String(), "README.TXT") {
		t.Fatalf("output = %q, want README.TXT", c.out.String())
	}
}

func TestCatPrintsFileContents(t *testing.T) {
	c, _ := runShell(t, "cat /README.TXT\nexit\n")
	if !strings.Contains(c.out.String(), "top level") {
		t.Fatalf("output = %q, want file contents", c.out.String())
	}
}

func TestUnknownCommandPrintsDiagnosticAndContinues(t *testing.T) {
	c, _ := runShell(t, "bogus\necho still-alive\nexit\n")
	out := c.out.String()
	if !strings.Contains(out, "unknown command: bogus") {
		t.Fatalf("output = %q, want unknown command diagnostic", out)
	}
	if !strings.Contains(out, "\r\nstill-alive\r\n") {
		t.Fatalf("output = %q, want shell to keep running after an unknown command", out)
	}
}

func TestBackspaceErasesLastCharacter(t *testing.T) {
	c, _ := runShell(t, "echoX\b hi\nexit\n")
	if !strings.Contains(c.out.String(), "\r\nhi\r\n") {
		t.Fatalf("output = %q, want the corrected command to run", c.out.String())
	}
}
