/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// HookFile writes every log entry whose level is in its level list to a
// single open file, matching the teacher's hookfile.go shape.
type HookFile struct {
	mu sync.Mutex
	f  *os.File
	fm logrus.Formatter
	lv []logrus.Level
}

// NewHookFile opens path for append (creating it with mode 0640 if
// missing) and returns a hook that writes every level in lvls to it. A
// nil/empty lvls means every level.
func NewHookFile(path string, lvls []logrus.Level) (*HookFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}

	if len(lvls) == 0 {
		lvls = logrus.AllLevels
	}

	return &HookFile{f: f, fm: &logrus.JSONFormatter{}, lv: lvls}, nil
}

func (h *HookFile) Levels() []logrus.Level { return h.lv }

func (h *HookFile) Fire(e *logrus.Entry) error {
	b, err := h.fm.Format(e)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.f.Write(b)
	return err
}

func (h *HookFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f.Close()
}
