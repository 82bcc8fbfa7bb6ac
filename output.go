package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// console serializes operator-facing progress lines; parallel imports
// share one.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

type bootstrapperOverride struct {
	CapabilitiesRegistry capabilitiesRegistry `json:"capabilities_registry"`
}

type capabilitiesRegistry struct {
	Registry          overrideRegistry `json:"registry"`
	RegionalTagPrefix bool             `json:"regional_tag_prefix"`
}

type overrideRegistry struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// usageHint is the variable assignment to pass to a job submission. The
// credentials are placeholders for the operator to fill in.
func usageHint(variable string, dest DestinationTarget) (string, error) {
	payload := bootstrapperOverride{
		CapabilitiesRegistry: capabilitiesRegistry{
			Registry: overrideRegistry{
				URL:      dest.loginServer(),
				Username: "<USER_NAME>",
				Password: "<PASSWORD>",
			},
		},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s='%s'", variable, strings.TrimSpace(buf.String())), nil
}

func (c *console) summary(report importReport, dest DestinationTarget, d Defaults) error {
	if failure, failed := report.firstFailure(); failed {
		c.printf("Failed to import %s (%d of %d attempted). Please see error details above.\n",
			failure.Repository, report.attempted(), len(report.outcomes))
		return nil
	}

	hint, err := usageHint(d.OverrideVariable, dest)
	if err != nil {
		return err
	}
	c.printf("Successfully imported %d images\n", len(report.outcomes))
	c.printf("Submit run with this environment variable:\n\n%s\n", hint)
	return nil
}
