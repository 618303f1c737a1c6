package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"

	"github.com/Jeffail/gabs"
	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/process"
	"github.com/fluxcd/watchdog/pkg/progress"
)

const (
	// DefaultCreateCommand makes an instance with awsbox.
	DefaultCreateCommand = `awsbox create -n "$WATCHDOG_INSTANCE_NAME"`
	DefaultAddressPath   = "ipAddress"
)

// Command provisions instances by running an external tool, which is
// expected to print a JSON object describing the new instance
// somewhere in its output. The instance name is given to the tool in
// WATCHDOG_INSTANCE_NAME.
type Command struct {
	CreateCommand string
	// AddressPath is the dotted path of the address in the JSON.
	AddressPath string
	// Dir the tool runs in; usually the working copy.
	Dir string
}

func (c *Command) Create(ctx context.Context, name string, report progress.Func) (string, error) {
	command := c.CreateCommand
	if command == "" {
		command = DefaultCreateCommand
	}
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), "WATCHDOG_INSTANCE_NAME="+name)

	stdout := &bytes.Buffer{}
	out := progress.NewWriter(report)
	cmd.Stdout = io.MultiWriter(stdout, out)
	cmd.Stderr = out
	err := process.Run(ctx, cmd)
	out.Close()
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrapf(ctx.Err(), "running %q", command)
		}
		return "", errors.Wrapf(err, "running %q", command)
	}

	path := c.AddressPath
	if path == "" {
		path = DefaultAddressPath
	}
	return ParseAddress(stdout.Bytes(), path)
}

// ParseAddress looks through output for a JSON object with a string
// at path, and returns that string. Anything else in the output,
// including other JSON objects, is ignored.
func ParseAddress(output []byte, path string) (string, error) {
	found := false
	for start := bytes.IndexByte(output, '{'); start >= 0; {
		var candidate json.RawMessage
		if err := json.NewDecoder(bytes.NewReader(output[start:])).Decode(&candidate); err == nil {
			found = true
			parsed, err := gabs.ParseJSON(candidate)
			if err == nil {
				if addr, ok := parsed.Path(path).Data().(string); ok && addr != "" {
					return addr, nil
				}
			}
		}
		next := bytes.IndexByte(output[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	if !found {
		return "", errors.New("no JSON object in output")
	}
	return "", errors.Errorf("no %q in output", path)
}
