package agent

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/page"
)

// NewOpener picks the page driver named by cfg.Driver.
func NewOpener(cfg Config, log logrus.FieldLogger) (Opener, error) {
	switch cfg.Driver {
	case "", "cdp", "chrome":
		return CDPOpener(cfg, log), nil
	case "static":
		if cfg.StaticHTMLPath == "" {
			return nil, errors.New("static driver needs STATIC_HTML_PATH")
		}
		return StaticOpener(cfg.StaticHTMLPath, cfg.StartURL), nil
	default:
		return nil, fmt.Errorf("unknown page driver %q", cfg.Driver)
	}
}

// CDPOpener launches Chrome and opens StartURL in a new tab.
func CDPOpener(cfg Config, log logrus.FieldLogger) Opener {
	return func(ctx context.Context) (page.Page, func(), error) {
		tab, err := page.Launch(ctx, page.BrowserOptions{
			ExecPath:    cfg.ChromePath,
			Headless:    cfg.Headless,
			UserDataDir: cfg.UserDataDir,
			StartURL:    cfg.StartURL,
			OpTimeout:   cfg.MessageTimeout,
			Logf:        log.WithField("component", "chrome").Debugf,
		})
		if err != nil {
			return nil, nil, err
		}
		log.WithField("url", cfg.StartURL).Info("chrome tab opened")
		return tab, tab.Close, nil
	}
}

// StaticOpener serves a saved HTML file as the page at url, re-read on
// every open. Clicks are recorded, nothing navigates.
func StaticOpener(path, url string) Opener {
	return func(ctx context.Context) (page.Page, func(), error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		doc, err := page.NewDocumentFromReader(url, f)
		if err != nil {
			return nil, nil, err
		}
		return doc, doc.Close, nil
	}
}
