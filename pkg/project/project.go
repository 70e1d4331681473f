package project

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

const (
	projectFilePattern  = "dbt_project.{yml,yaml}"
	profilesFilePattern = "profiles.{yml,yaml}"
	modelFilePattern    = "**/*.{sql,py}"
	defaultModelPath    = "models"
)

var (
	ErrNoProjectFile  = errors.New("no dbt_project.yml found")
	ErrNoProfilesFile = errors.New("no profiles.yml found")
)

// Project is the subset of dbt_project.yml needed for logging and checks.
type Project struct {
	Name       string   `yaml:"name"`
	Profile    string   `yaml:"profile"`
	ModelPaths []string `yaml:"model-paths"`

	Dir         string `yaml:"-"`
	ProfilesDir string `yaml:"-"`
	File        string `yaml:"-"`
}

// Load verifies that projectDir holds a dbt project and profilesDir a
// profiles file, then reads the project file.
func Load(projectDir, profilesDir string) (*Project, error) {
	projectFile, err := findOne(os.DirFS(projectDir), projectFilePattern)
	if err != nil {
		return nil, fmt.Errorf("checking project dir %s: %w", projectDir, err)
	}
	if projectFile == "" {
		return nil, fmt.Errorf("%w in %s", ErrNoProjectFile, projectDir)
	}

	profilesFile, err := findOne(os.DirFS(profilesDir), profilesFilePattern)
	if err != nil {
		return nil, fmt.Errorf("checking profiles dir %s: %w", profilesDir, err)
	}
	if profilesFile == "" {
		return nil, fmt.Errorf("%w in %s", ErrNoProfilesFile, profilesDir)
	}

	full := filepath.Join(projectDir, projectFile)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading project file: %w", err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing project file %s: %w", full, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("project file %s: name is required", full)
	}
	if len(p.ModelPaths) == 0 {
		p.ModelPaths = []string{defaultModelPath}
	}
	p.Dir = projectDir
	p.ProfilesDir = profilesDir
	p.File = full

	slog.Info("dbt project found", "name", p.Name, "profile", p.Profile, "file", full)
	return &p, nil
}

// Models lists model files below the configured model paths, relative to the project dir.
func (p *Project) Models() ([]string, error) {
	fsys := os.DirFS(p.Dir)
	var models []string
	for _, dir := range p.ModelPaths {
		if _, err := fs.Stat(fsys, dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		sub, err := fs.Sub(fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("listing models in %s: %w", dir, err)
		}
		matches, err := doublestar.Glob(sub, modelFilePattern)
		if err != nil {
			return nil, fmt.Errorf("listing models in %s: %w", dir, err)
		}
		for _, m := range matches {
			models = append(models, path.Join(dir, m))
		}
	}
	slices.Sort(models)
	return slices.Compact(models), nil
}

func findOne(fsys fs.FS, pattern string) (string, error) {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	slices.Sort(matches)
	if len(matches) > 1 {
		slog.Warn("several candidate files, using the first", "pattern", pattern, "files", matches)
	}
	return matches[0], nil
}
