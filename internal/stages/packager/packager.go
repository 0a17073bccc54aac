package packager

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/storage"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/messages"
)

//go:generate mockgen -destination=../../../tests/mocks/mock_packager.go -package=mocks . Packager

// Packager turns a grading request that may reference stored files into one that
// carries every byte the grader needs.
type Packager interface {
	Resolve(ctx context.Context, req *messages.GradingRequest) (*messages.GradingRequest, error)
}

type packager struct {
	logger  *zap.SugaredLogger
	storage storage.FileService
}

func NewPackager(fs storage.FileService) Packager {
	return &packager{
		logger:  logger.NewNamedLogger("packager"),
		storage: fs,
	}
}

func (p *packager) Resolve(ctx context.Context, req *messages.GradingRequest) (*messages.GradingRequest, error) {
	resolved := *req

	if resolved.Source == nil && resolved.SourceFile != nil {
		source, err := p.fetch(ctx, *resolved.SourceFile)
		if err != nil {
			p.logger.Errorf("Failed to download submission source [ID: %s]: %s", req.SubmissionID, err)
			return nil, err
		}
		resolved.Source = source
		resolved.SourceFile = nil
	}

	cases := req.TestCases
	if len(cases) == 0 && (len(req.InputFiles) > 0 || len(req.ExpectedFiles) > 0) {
		paired, err := PairTestCases(req.InputFiles, req.ExpectedFiles)
		if err != nil {
			return nil, err
		}
		cases = paired
	}

	resolved.TestCases = make([]messages.TestCase, len(cases))
	resolved.InputFiles = nil
	resolved.ExpectedFiles = nil
	for i, tc := range cases {
		out, err := p.resolveTestCase(ctx, tc)
		if err != nil {
			p.logger.Errorf("Failed to download test case %d [ID: %s]: %s", i, req.SubmissionID, err)
			return nil, err
		}
		resolved.TestCases[i] = out
	}

	return &resolved, nil
}

func (p *packager) resolveTestCase(ctx context.Context, tc messages.TestCase) (messages.TestCase, error) {
	if !tc.HasExpected() {
		return tc, errors.NewConfigurationError(fmt.Sprintf("test case %q has no expected output", tc.Name))
	}
	if tc.Input == nil && tc.InputFile != nil && !tc.InputFile.IsEmpty() {
		input, err := p.fetch(ctx, *tc.InputFile)
		if err != nil {
			return tc, err
		}
		tc.Input = input
	}
	tc.InputFile = nil

	if tc.Expected == nil && tc.ExpectedFile != nil && !tc.ExpectedFile.IsEmpty() {
		expected, err := p.fetch(ctx, *tc.ExpectedFile)
		if err != nil {
			return tc, err
		}
		tc.Expected = expected
	}
	tc.ExpectedFile = nil
	return tc, nil
}

func (p *packager) fetch(ctx context.Context, location messages.FileLocation) ([]byte, error) {
	data, err := p.storage.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// PairTestCases pairs a question's input files with its expected output files by
// file name stem ("1.in" with "1.out") and orders the pairs by input file name.
// Any file without a partner makes the question's test data invalid.
func PairTestCases(inputs, outputs []messages.FileLocation) ([]messages.TestCase, error) {
	expected := make(map[string]messages.FileLocation, len(outputs))
	for _, out := range outputs {
		stem := fileStem(out.Path)
		if _, dup := expected[stem]; dup {
			return nil, errors.NewConfigurationError(fmt.Sprintf("duplicate expected output %q", stem))
		}
		expected[stem] = out
	}

	sorted := make([]messages.FileLocation, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return path.Base(sorted[i].Path) < path.Base(sorted[j].Path)
	})

	cases := make([]messages.TestCase, 0, len(sorted))
	seen := make(map[string]struct{}, len(sorted))
	for _, in := range sorted {
		stem := fileStem(in.Path)
		if _, dup := seen[stem]; dup {
			return nil, errors.NewConfigurationError(fmt.Sprintf("duplicate test input %q", stem))
		}
		seen[stem] = struct{}{}

		out, ok := expected[stem]
		if !ok {
			return nil, errors.NewConfigurationError(fmt.Sprintf("test input %q has no expected output", stem))
		}
		delete(expected, stem)

		inputFile, expectedFile := in, out
		cases = append(cases, messages.TestCase{
			Name:         stem,
			InputFile:    &inputFile,
			ExpectedFile: &expectedFile,
		})
	}

	if len(expected) > 0 {
		orphans := make([]string, 0, len(expected))
		for stem := range expected {
			orphans = append(orphans, stem)
		}
		sort.Strings(orphans)
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("expected outputs without test input: %s", strings.Join(orphans, ", ")))
	}
	return cases, nil
}

func fileStem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
