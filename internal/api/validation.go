package api

import (
	"github.com/pkg/errors"

	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/router"
)

// MaxFindings bounds the findings of one request.
const MaxFindings = 1000

var errNoFindings = errors.New("findings is required")

func validateBatch(findings []domain.Finding) error {
	if len(findings) == 0 {
		return errNoFindings
	}
	if len(findings) > MaxFindings {
		return errors.Errorf("at most %d findings per request, got %d", MaxFindings, len(findings))
	}
	return nil
}

// validateStandalone checks a finding posted without a job: it must carry
// enough to compute its correlation key on its own.
func validateStandalone(f domain.Finding) error {
	if f.Type == "" {
		return errors.New("type is required")
	}
	if f.JobID != "" {
		return nil
	}
	if f.Type == domain.FindingJobStatus {
		return errors.New("job status findings require a jobId")
	}
	_, err := router.CorrelationKey(f, router.EffectiveProject(f, ""))
	return err
}
