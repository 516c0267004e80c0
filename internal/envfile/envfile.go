// Package envfile writes a captured remote environment to disk so other
// tools (docker compose, IDE run configurations, scripts) can reuse it.
//
// Three formats are supported: a Docker Compose style env file, a JSON
// document and a YAML document. All of them list keys in sorted order.
package envfile

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/podnet/internal/model"
)

const filePerm = 0o644

// Targets names the files to write. Empty paths are skipped.
type Targets struct {
	EnvFile string
	JSON    string
	YAML    string
}

// Empty reports whether no export was requested.
func (t Targets) Empty() bool {
	return t.EnvFile == "" && t.JSON == "" && t.YAML == ""
}

// SerializeEnvFile renders env in the Docker Compose env file format: one
// KEY=VALUE line per variable, sorted by key, without any quoting or
// escaping. The format has no way to represent a newline inside a value,
// so such keys are left out and returned as skipped.
func SerializeEnvFile(env model.EnvironmentMap) ([]byte, []string) {
	var buf bytes.Buffer
	var skipped []string
	for _, key := range env.SortedKeys() {
		value := env[key]
		if strings.Contains(value, "\n") {
			skipped = append(skipped, key)
			continue
		}
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), skipped
}

// WriteEnvFile writes env to path in the env file format and returns the
// keys that could not be represented.
func WriteEnvFile(fs afero.Fs, path string, env model.EnvironmentMap) ([]string, error) {
	data, skipped := SerializeEnvFile(env)
	if err := afero.WriteFile(fs, path, data, filePerm); err != nil {
		return nil, err
	}
	return skipped, nil
}

// WriteEnvJSON writes env to path as a JSON object indented with four
// spaces.
func WriteEnvJSON(fs afero.Fs, path string, env model.EnvironmentMap) error {
	data, err := json.MarshalIndent(map[string]string(env), "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode environment as JSON: %w", err)
	}
	return afero.WriteFile(fs, path, append(data, '\n'), filePerm)
}

// WriteEnvYAML writes env to path as a YAML mapping.
func WriteEnvYAML(fs afero.Fs, path string, env model.EnvironmentMap) error {
	data, err := yaml.Marshal(map[string]string(env))
	if err != nil {
		return fmt.Errorf("failed to encode environment as YAML: %w", err)
	}
	return afero.WriteFile(fs, path, data, filePerm)
}

// Export writes env to every requested target. It never fails: a session
// must not be aborted because an export could not be written, so write
// errors and skipped keys are reported as warnings.
func Export(fs afero.Fs, targets Targets, env model.EnvironmentMap, logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if targets.JSON != "" {
		if err := WriteEnvJSON(fs, targets.JSON, env); err != nil {
			logger.Warnf("Failed to write environment as JSON: %v", err)
		} else {
			logger.Debugf("wrote environment to %s", targets.JSON)
		}
	}

	if targets.YAML != "" {
		if err := WriteEnvYAML(fs, targets.YAML, env); err != nil {
			logger.Warnf("Failed to write environment as YAML: %v", err)
		} else {
			logger.Debugf("wrote environment to %s", targets.YAML)
		}
	}

	if targets.EnvFile != "" {
		skipped, err := WriteEnvFile(fs, targets.EnvFile, env)
		if err != nil {
			logger.Warnf("Failed to write environment as env file: %v", err)
			return
		}
		logger.Debugf("wrote environment to %s", targets.EnvFile)
		if len(skipped) > 0 {
			logger.Warnf("Skipped these environment keys when writing env file because the associated values have newlines: %s",
				strings.Join(skipped, ", "))
		}
	}
}
