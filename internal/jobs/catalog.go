package jobs

import (
	"context"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/djlord-it/findingsd/internal/domain"
)

// Catalog holds the custom jobs and pod configs known to the daemon.
type Catalog struct {
	CustomJobs []domain.CustomJob
	PodConfigs []domain.JobPodConfig
}

// CatalogStore keeps custom jobs and pod configs for the resolver.
type CatalogStore interface {
	PutCustomJob(ctx context.Context, job domain.CustomJob)
	PutJobPodConfig(ctx context.Context, conf domain.JobPodConfig)
}

type catalogDocument struct {
	PodConfigs []struct {
		ID                string `yaml:"id"`
		Name              string `yaml:"name"`
		MilliCPULimit     int    `yaml:"milliCpuLimit"`
		MemoryKbytesLimit int    `yaml:"memoryKbytesLimit"`
	} `yaml:"podConfigs"`
	CustomJobs []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		Type      string `yaml:"type"`
		Language  string `yaml:"language"`
		Code      string `yaml:"code"`
		PodConfig string `yaml:"podConfig"`
	} `yaml:"customJobs"`
}

// ParseCatalog decodes one catalog document. Ids default to names.
func ParseCatalog(data []byte) (Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Catalog{}, errors.Wrap(err, "decode job catalog")
	}

	var c Catalog
	for _, p := range doc.PodConfigs {
		conf := domain.JobPodConfig{
			ID:                strings.TrimSpace(p.ID),
			Name:              strings.TrimSpace(p.Name),
			MilliCPULimit:     p.MilliCPULimit,
			MemoryKbytesLimit: p.MemoryKbytesLimit,
		}
		if conf.ID == "" {
			conf.ID = conf.Name
		}
		if conf.ID == "" {
			return Catalog{}, errors.New("pod config without id or name")
		}
		if conf.MilliCPULimit <= 0 || conf.MemoryKbytesLimit <= 0 {
			return Catalog{}, errors.Errorf("pod config %q: limits must be positive", conf.ID)
		}
		c.PodConfigs = append(c.PodConfigs, conf)
	}
	for _, j := range doc.CustomJobs {
		job := domain.CustomJob{
			ID:             strings.TrimSpace(j.ID),
			Name:           strings.TrimSpace(j.Name),
			Type:           strings.TrimSpace(j.Type),
			Language:       strings.TrimSpace(j.Language),
			Code:           j.Code,
			JobPodConfigID: strings.TrimSpace(j.PodConfig),
		}
		if job.Name == "" {
			return Catalog{}, errors.New("custom job without name")
		}
		if job.Code == "" {
			return Catalog{}, errors.Errorf("custom job %q: code is empty", job.Name)
		}
		if job.ID == "" {
			job.ID = job.Name
		}
		c.CustomJobs = append(c.CustomJobs, job)
	}
	return c, nil
}

// LoadCatalogDir loads every catalog file of dir. See LoadCatalogFS.
func LoadCatalogDir(dir string) (Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Catalog{}, errors.Wrap(err, "custom jobs directory")
	}
	if !info.IsDir() {
		return Catalog{}, errors.Errorf("custom jobs directory: %s is not a directory", dir)
	}
	return LoadCatalogFS(os.DirFS(dir), ".")
}

// LoadCatalogFS merges the .yml and .yaml files directly under dir in
// lexical order. Names and pod config ids must be unique across files and
// every pod config a custom job references must be defined.
func LoadCatalogFS(fsys fs.FS, dir string) (Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return Catalog{}, errors.Wrap(err, "read custom jobs directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out Catalog
	jobFiles := make(map[string]string)
	confFiles := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isYAML(name) {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return Catalog{}, errors.Wrap(err, name)
		}
		c, err := ParseCatalog(data)
		if err != nil {
			return Catalog{}, errors.Wrap(err, name)
		}
		for _, conf := range c.PodConfigs {
			if prev, ok := confFiles[conf.ID]; ok {
				return Catalog{}, errors.Errorf("%s: pod config %q already defined in %s", name, conf.ID, prev)
			}
			confFiles[conf.ID] = name
		}
		for _, job := range c.CustomJobs {
			if prev, ok := jobFiles[job.Name]; ok {
				return Catalog{}, errors.Errorf("%s: custom job %q already defined in %s", name, job.Name, prev)
			}
			jobFiles[job.Name] = name
		}
		out.PodConfigs = append(out.PodConfigs, c.PodConfigs...)
		out.CustomJobs = append(out.CustomJobs, c.CustomJobs...)
	}

	for _, job := range out.CustomJobs {
		if job.JobPodConfigID == "" {
			continue
		}
		if _, ok := confFiles[job.JobPodConfigID]; !ok {
			return Catalog{}, errors.Wrapf(ErrJobPodConfigNotFound, "%s: custom job %q references %q", jobFiles[job.Name], job.Name, job.JobPodConfigID)
		}
	}
	return out, nil
}

// Apply stores the catalog.
func (c Catalog) Apply(ctx context.Context, store CatalogStore) {
	for _, conf := range c.PodConfigs {
		store.PutJobPodConfig(ctx, conf)
	}
	for _, job := range c.CustomJobs {
		store.PutCustomJob(ctx, job)
	}
}

func isYAML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}
