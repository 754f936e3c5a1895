// Package declparser is the controller's declarative model parser: it
// validates an incoming registration payload, persists it under the
// model directory keyed by project name, and extracts the
// EntityDescription fields the Registry needs. The wire format is left
// to this collaborator to define, so it is given a concrete YAML
// document shape, mirroring a YAML-unmarshal-then-validate pattern.
package declparser

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/model"
)

// document is the on-the-wire declarative payload shape.
type document struct {
	Identifier string `yaml:"identifier"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Monitoring string `yaml:"monitoring"`
}

// Parser validates, stores and retrieves declarative entity payloads
// under a directory, one file per project.
type Parser struct {
	directory string

	mu       sync.Mutex
	projects map[string]document
}

// New builds a Parser rooted at directory. The directory is assumed to
// already exist (internal/config ensures this during Load).
func New(directory string) *Parser {
	return &Parser{
		directory: directory,
		projects:  make(map[string]document),
	}
}

// AddModel validates raw as a declarative document, persists it to disk
// under the project name fileName (or the document's identifier when
// fileName is empty), and returns that project name. On any
// validation failure the payload is neither persisted nor tracked.
func (p *Parser) AddModel(raw []byte, fileName string) (string, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", ctlerr.Wrap(ctlerr.Validation, "malformed declarative payload", err)
	}
	if doc.Identifier == "" {
		return "", ctlerr.Field(ctlerr.Validation, "identifier", "must not be blank")
	}
	if doc.Host == "" {
		return "", ctlerr.Field(ctlerr.Validation, "host", "must not be blank")
	}
	if doc.Port < 0 || doc.Port > 65535 {
		return "", ctlerr.Field(ctlerr.Validation, "port", "out of range [0,65535]")
	}
	if _, err := model.ParseMonitoringAddress(doc.Monitoring); err != nil {
		return "", err
	}

	projectName := fileName
	if projectName == "" {
		projectName = doc.Identifier
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.WriteFile(p.pathFor(projectName), raw, 0o644); err != nil {
		return "", ctlerr.Wrap(ctlerr.State, "failed to persist declarative payload", err)
	}
	p.projects[projectName] = doc
	return projectName, nil
}

// LoadProject retrieves the EntityDescription extracted from a
// previously-added project, re-reading from disk if it is not already
// cached in memory (e.g. after a restart).
func (p *Parser) LoadProject(projectName string) (model.EntityDescription, error) {
	p.mu.Lock()
	doc, ok := p.projects[projectName]
	p.mu.Unlock()

	if !ok {
		raw, err := os.ReadFile(p.pathFor(projectName))
		if err != nil {
			return model.EntityDescription{}, ctlerr.Wrap(ctlerr.State, "unknown project: "+projectName, err)
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return model.EntityDescription{}, ctlerr.Wrap(ctlerr.Validation, "malformed stored payload", err)
		}
		p.mu.Lock()
		p.projects[projectName] = doc
		p.mu.Unlock()
	}

	addr, err := model.ParseMonitoringAddress(doc.Monitoring)
	if err != nil {
		return model.EntityDescription{}, err
	}

	return model.EntityDescription{
		Identifier:  doc.Identifier,
		Host:        doc.Host,
		Port:        doc.Port,
		Monitoring:  addr,
		SourceRef:   projectName,
		ProjectName: projectName,
	}, nil
}

// Remove deletes a project's persisted payload and in-memory record. It
// is used as the best-effort rollback when registry ingestion fails
// partway through, so a missing file is not itself an error.
func (p *Parser) Remove(projectName string) error {
	p.mu.Lock()
	delete(p.projects, projectName)
	p.mu.Unlock()

	if err := os.Remove(p.pathFor(projectName)); err != nil && !os.IsNotExist(err) {
		return ctlerr.Wrap(ctlerr.State, "failed to remove declarative payload", err)
	}
	return nil
}

func (p *Parser) pathFor(projectName string) string {
	return filepath.Join(p.directory, fmt.Sprintf("%s.yaml", projectName))
}
