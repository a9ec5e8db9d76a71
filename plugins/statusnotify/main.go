package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/meszmate/gateway/pkg/plugin"
)

// StatusNotifyPlugin raises desktop notifications for session events
type StatusNotifyPlugin struct {
	api     plugin.API
	running bool
	unsub   []func()
}

// Name returns the plugin name
func (p *StatusNotifyPlugin) Name() string {
	return "statusnotify"
}

// Version returns the plugin version
func (p *StatusNotifyPlugin) Version() string {
	return "1.0.0"
}

// Description returns a short description
func (p *StatusNotifyPlugin) Description() string {
	return "Desktop notifications for connection and roster events"
}

// Init initializes the plugin
func (p *StatusNotifyPlugin) Init(ctx context.Context, api plugin.API) error {
	p.api = api
	return nil
}

// Start starts the plugin
func (p *StatusNotifyPlugin) Start() error {
	if p.running {
		return nil
	}

	// Subscribe to connection status changes
	unsubStatus := p.api.OnStatusChanged(func(status, reason string) {
		var message string
		switch status {
		case "connected":
			message = "Connected"
		case "disconnected":
			if reason == "requested" {
				return
			}
			message = fmt.Sprintf("Disconnected: %s", reason)
		default:
			return
		}

		_ = sendNotification("Gateway", message)
	})
	p.unsub = append(p.unsub, unsubStatus)

	// Subscribe to verification demands
	unsubVerify := p.api.OnVerificationRequested(func(prompt plugin.VerificationPrompt) {
		title := prompt.Title
		if title == "" {
			title = "Verification required"
		}
		_ = sendNotification(title, prompt.URL)
	})
	p.unsub = append(p.unsub, unsubVerify)

	p.running = true
	return nil
}

// Stop stops the plugin
func (p *StatusNotifyPlugin) Stop() error {
	if !p.running {
		return nil
	}

	for _, unsub := range p.unsub {
		unsub()
	}
	p.unsub = nil

	p.running = false
	return nil
}

// Notify implements the Notifier role for direct gateway notifications
func (p *StatusNotifyPlugin) Notify(title, body string) error {
	return sendNotification(title, body)
}

// sendNotification sends a desktop notification
func sendNotification(title, body string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, body, title)
		return exec.Command("osascript", "-e", script).Run()

	case "linux":
		return exec.Command("notify-send", title, body).Run()

	case "windows":
		// Windows Toast notifications require more complex implementation
		return nil

	default:
		return nil
	}
}

func main() {
	// This would use go-plugin to serve the plugin
	// Simplified for example purposes
}
