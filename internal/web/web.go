package web

import (
	"context"
	"errors"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/utils"
)

var ErrBrowserClosed = errors.New("user closed the aws-sso-sync browser instance")

// WebConfig
type WebConfig struct {
	// CustomChromeExecutable can point to a chromium like browser executable
	// e.g. chrome, chromium, brave, edge, (any other chromium based browser)
	CustomChromeExecutable string
	datadir                string
	headless               bool
	leakless               bool
	noSandbox              bool
}

func NewWebConf(datadir string) *WebConfig {
	return &WebConfig{
		datadir:  datadir,
		headless: false,
	}
}

func (wc *WebConfig) WithHeadless() *WebConfig {
	wc.headless = true
	return wc
}

func (wc *WebConfig) WithNoSandbox() *WebConfig {
	wc.noSandbox = true
	return wc
}

func (wc *WebConfig) WithCustomExecutable(browserPath string) *WebConfig {
	wc.CustomChromeExecutable = browserPath
	return wc
}

type Web struct {
	conf     *WebConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	ctx      context.Context
}

// New returns an initialised instance of Web struct
func New(ctx context.Context, conf *WebConfig) (*Web, error) {
	l := BuildLauncher(ctx, conf)

	url, err := l.Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().
		ControlURL(url).
		MustConnect().NoDefaultDevice()

	web := &Web{
		conf:     conf,
		launcher: l,
		browser:  browser,
		ctx:      ctx,
	}

	return web, nil
}

func BuildLauncher(ctx context.Context, conf *WebConfig) *launcher.Launcher {
	l := launcher.New()
	// common set up
	l.Devtools(false).
		UserDataDir(conf.datadir).
		Headless(conf.headless).
		NoSandbox(conf.noSandbox).
		Leakless(conf.leakless)

	if conf.CustomChromeExecutable != "" {
		return l.Bin(conf.CustomChromeExecutable)
	}
	// try default locations if custom location is not specified and default location exists
	if defaultExecPath, found := launcher.LookPath(); defaultExecPath != "" && found {
		return l.Bin(defaultExecPath)
	}
	return l
}

// OpenVerification navigates the controlled browser to the device
// authorization verification page. The returned channel fires if the user
// closes the browser before the flow completes, so the caller can stop
// polling for the token.
func (web *Web) OpenVerification(url string) <-chan error {
	go func() {
		<-web.ctx.Done()
		web.MustClose()
	}()

	web.browser.MustPage(url)

	closed := make(chan error, 1)
	go func() {
		for browserEvent := range web.browser.Event() {
			if browserEvent != nil && browserEvent.Method == "Inspector.detached" {
				closed <- ErrBrowserClosed
				return
			}
		}
	}()
	return closed
}

func (web *Web) MustClose() {
	web.launcher.Kill()
	web.launcher.Cleanup()
	_ = web.browser.Close()
	utils.Sleep(0.5)
	// remove process just in case
	// os.Process is cross platform safe way to remove a process
	if osprocess, err := os.FindProcess(web.launcher.PID()); err == nil && osprocess != nil {
		_ = osprocess.Kill()
	}
}
