// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/skratchdot/open-golang/open"
	"go.uber.org/zap"
)

// BrowserLauncher opens a URL in the user's browser.
type BrowserLauncher interface {
	OpenURL(url string) error
}

// SystemBrowser launches the default browser, falling back to the platform
// command when open-golang cannot.
type SystemBrowser struct {
	Log *zap.SugaredLogger
}

func (b SystemBrowser) OpenURL(url string) error {
	log := b.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	err := open.Start(url)
	if err == nil {
		return nil
	}
	log.Debugw("open-golang failed, trying platform command", "error", err)
	if fallbackErr := openURLPlatformSpecific(url); fallbackErr != nil {
		return newError(KindBrowserFailed, "failed to launch browser", errors.Join(err, fallbackErr))
	}
	return nil
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		for _, candidate := range []string{"xdg-open", "x-www-browser", "www-browser"} {
			if _, err := exec.LookPath(candidate); err == nil {
				cmd = exec.Command(candidate, url)
				break
			}
		}
	}
	if cmd == nil {
		return errors.New("no browser command available")
	}
	return cmd.Start()
}

// ManualBrowser prints the URL instead of launching anything. It backs --no-browser.
type ManualBrowser struct {
	Out io.Writer
}

func (b ManualBrowser) OpenURL(url string) error {
	if b.Out == nil {
		return newError(KindBrowserFailed, "no output available to show the login URL", nil)
	}
	if _, err := fmt.Fprintf(b.Out, "Open the following URL in your browser to log in:\n%s\n", url); err != nil {
		return newError(KindBrowserFailed, "failed to print login URL", err)
	}
	return nil
}
