// Copyright 2026 The RHSS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/rhss-project/rhss/cfg"
	"github.com/stretchr/testify/assert"
)

func redirectLogsToBuffer(buf *bytes.Buffer, format string, severity string) {
	level := new(slog.LevelVar)
	setLoggingLevel(severity, level)
	defaultLoggerFactory = &loggerFactory{format: format, level: level}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(buf, level, ""))
}

func TestTextFormat_OnlyWarningAndAboveLogged(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, string(cfg.TextLogFormat), string(cfg.WarningLogSeverity))

	Infof("info line")
	assert.Empty(t, buf.String())

	Warnf("warning line")
	assert.Regexp(t, regexp.MustCompile(`severity=WARNING`), buf.String())
}

func TestTextFormat_OffSuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, string(cfg.TextLogFormat), string(cfg.OffLogSeverity))

	Errorf("should not appear")
	assert.Empty(t, buf.String())
}

func TestJSONFormat_IncludesSeverityAndMessage(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, string(cfg.JSONLogFormat), string(cfg.InfoLogSeverity))

	Infof("hello %s", "world")

	assert.Contains(t, buf.String(), `"severity":"INFO"`)
	assert.Contains(t, buf.String(), `"msg":"hello world"`)
}

func TestInit_UnknownSeverity(t *testing.T) {
	err := Init(cfg.LoggingConfig{Severity: "BOGUS"}, "rhss")
	assert.Error(t, err)
}
