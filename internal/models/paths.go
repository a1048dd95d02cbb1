// Package models resolves where model weights and class name files live.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultModelsDir is the models directory relative to the project root.
const DefaultModelsDir = "models"

// DefaultModelFile is the weights file looked up inside the models directory.
const DefaultModelFile = "best.onnx"

// DefaultNamesFile is an optional class names file next to the weights.
const DefaultNamesFile = "names.yaml"

// Environment variables for path overrides.
const (
	EnvModelsDir = "PARKDET_MODELS_DIR"
	EnvModelPath = "PARKDET_MODEL_PATH"
)

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelsDir returns the models directory.
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func ModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath returns the weights path.
// Priority: 1. Explicit modelPath, 2. PARKDET_MODEL_PATH, 3. ModelsDir(modelsDir)/best.onnx.
func ResolveModelPath(modelsDir, modelPath string) string {
	if modelPath != "" {
		return modelPath
	}
	if env := os.Getenv(EnvModelPath); env != "" {
		return env
	}
	return filepath.Join(ModelsDir(modelsDir), DefaultModelFile)
}

// ResolveNamesPath returns namesPath when set, otherwise names.yaml next to the
// weights if that file exists, otherwise "" so the model metadata is used.
func ResolveNamesPath(modelPath, namesPath string) string {
	if namesPath != "" {
		return namesPath
	}
	candidate := filepath.Join(filepath.Dir(modelPath), DefaultNamesFile)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// ValidateModelExists checks that a model file exists and is a regular file.
func ValidateModelExists(modelPath string) error {
	info, err := os.Stat(modelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("model file not found: %s", modelPath)
		}
		return fmt.Errorf("cannot access model file %s: %w", modelPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path is a directory: %s", modelPath)
	}
	return nil
}
