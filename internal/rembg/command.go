package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cutout/internal/tempfile"
)

// CommandRemover shells out to an external tool. The template is split on
// whitespace; {input}, {output} and {model} are substituted per call, and the
// tool must write its result to exactly the {output} path.
type CommandRemover struct {
	args []string
}

func NewCommandRemover(template string) (*CommandRemover, error) {
	args := strings.Fields(template)
	if len(args) == 0 {
		return nil, errors.New("REMBG_COMMAND is required for the command backend")
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "{input}") || !strings.Contains(joined, "{output}") {
		return nil, errors.New("REMBG_COMMAND must reference {input} and {output}")
	}
	return &CommandRemover{args: args}, nil
}

func (c *CommandRemover) Name() string { return "command" }

func (c *CommandRemover) Remove(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error) {
	scope := opts.Scope
	if scope == nil {
		scope = tempfile.NewScope("")
		defer scope.Close()
	}

	var staged bytes.Buffer
	if err := png.Encode(&staged, img); err != nil {
		return nil, fmt.Errorf("stage command input: %w", err)
	}
	inPath, err := scope.Write("input.png", staged.Bytes())
	if err != nil {
		return nil, err
	}
	outPath, err := scope.Path("output.png")
	if err != nil {
		return nil, err
	}

	replacer := strings.NewReplacer("{input}", inPath, "{output}", outPath, "{model}", opts.Model)
	argv := make([]string, len(c.args))
	for i, a := range c.args {
		argv[i] = replacer.Replace(a)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrCommandFailed, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: no output written: %v", ErrCommandFailed, err)
	}
	out, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode command output: %w", err)
	}
	return imaging.Clone(out), nil
}
