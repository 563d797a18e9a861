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

package proctree

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Family is a named group of executables tracked as one resource family,
// for example "browser" (chrome, chromium) or "browser-helper" (chromedriver).
// Family 是作为同一资源族跟踪的一组可执行文件。
type Family struct {
	Name     string
	patterns []glob.Glob
	raw      []string
}

// NewFamily compiles the executable patterns of a family. Patterns are glob
// expressions matched case-insensitively against the executable name.
// NewFamily 编译资源族的可执行文件匹配模式（不区分大小写的 glob）。
func NewFamily(name string, patterns ...string) (*Family, error) {
	if name == "" {
		return nil, fmt.Errorf("proctree: family name is required")
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("proctree: family %q has no executable patterns", name)
	}

	f := &Family{Name: name}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("proctree: invalid pattern %q for family %q: %w", p, name, err)
		}
		f.patterns = append(f.patterns, g)
		f.raw = append(f.raw, p)
	}
	return f, nil
}

// MustFamily is NewFamily that panics on error, for static definitions.
func MustFamily(name string, patterns ...string) *Family {
	f, err := NewFamily(name, patterns...)
	if err != nil {
		panic(err)
	}
	return f
}

// Patterns returns the source patterns.
func (f *Family) Patterns() []string {
	out := make([]string, len(f.raw))
	copy(out, f.raw)
	return out
}

// Match reports whether an executable name belongs to the family.
// Match 判断可执行文件名是否属于该资源族。
func (f *Family) Match(name string) bool {
	name = strings.ToLower(filepath.Base(strings.TrimSpace(name)))
	name = strings.TrimSuffix(name, ".exe")
	if name == "" {
		return false
	}
	for _, g := range f.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}
