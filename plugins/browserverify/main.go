package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/meszmate/gateway/pkg/plugin"
)

// BrowserVerifyPlugin resolves verification prompts by sending the user to
// their browser. It reports the checkpoint as cleared once the browser has
// been opened; if the service disagrees, the gateway receives a fresh
// verification demand and the cycle repeats.
type BrowserVerifyPlugin struct {
	api     plugin.API
	running bool
}

// Name returns the plugin name
func (p *BrowserVerifyPlugin) Name() string {
	return "browserverify"
}

// Version returns the plugin version
func (p *BrowserVerifyPlugin) Version() string {
	return "1.0.0"
}

// Description returns a short description
func (p *BrowserVerifyPlugin) Description() string {
	return "Opens verification checkpoints in the default browser"
}

// Init initializes the plugin
func (p *BrowserVerifyPlugin) Init(ctx context.Context, api plugin.API) error {
	p.api = api
	return nil
}

// Start starts the plugin
func (p *BrowserVerifyPlugin) Start() error {
	p.running = true
	return nil
}

// Stop stops the plugin
func (p *BrowserVerifyPlugin) Stop() error {
	p.running = false
	return nil
}

// Verify implements the Verifier role
func (p *BrowserVerifyPlugin) Verify(ctx context.Context, prompt plugin.VerificationPrompt) (bool, error) {
	if prompt.URL == "" {
		return false, fmt.Errorf("verification prompt carries no URL")
	}

	if err := openBrowser(prompt.URL); err != nil {
		return false, err
	}

	return true, nil
}

// openBrowser opens a URL in the default browser
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

func main() {
	// This would use go-plugin to serve the plugin
	// Simplified for example purposes
}
