/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightStarter starts Chromium through playwright-go.
// PlaywrightStarter 通过 playwright-go 启动 Chromium。
type PlaywrightStarter struct {
	// Install downloads the driver and browsers before the first start
	// Install 为 true 时在首次启动前下载驱动和浏览器
	Install bool

	installOnce sync.Once
	installErr  error
}

func (s *PlaywrightStarter) runOptions() *playwright.RunOptions {
	return &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
}

// Start runs the Playwright driver, launches Chromium and opens one page.
// Start 启动 Playwright 驱动和 Chromium，并打开一个页面。
func (s *PlaywrightStarter) Start(ctx context.Context, opts Options) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Install {
		s.installOnce.Do(func() { s.installErr = playwright.Install(s.runOptions()) })
		if s.installErr != nil {
			return nil, fmt.Errorf("install playwright: %w", s.installErr)
		}
	}

	pw, err := playwright.Run(s.runOptions())
	if err != nil {
		return nil, fmt.Errorf("run playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	}
	if opts.ExecutablePath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecutablePath)
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	bctx, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	return &playwrightInstance{pw: pw, browser: browser, context: bctx, page: page}, nil
}

type playwrightInstance struct {
	mu      sync.Mutex
	closed  bool
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (i *playwrightInstance) Goto(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return "", ErrClosed
	}
	if _, err := i.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	return i.page.URL(), nil
}

// Close ignores individual errors until every resource has been released.
func (i *playwrightInstance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return errors.Join(
		i.page.Close(),
		i.context.Close(),
		i.browser.Close(),
		i.pw.Stop(),
	)
}
