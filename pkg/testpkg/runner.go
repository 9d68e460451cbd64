package testpkg

import (
	"context"
	"time"
)

// ProbeFunc is a generic detection primitive. code follows the TestSet
// result-code convention: >0 pass, =0 inconclusive, <0 fail.
type ProbeFunc func(ctx context.Context, params map[string]interface{}) (code int, info map[string]interface{}, err error)

// Report is a single test execution result, matching the TestReport shape
// produced by the reference TestSet.test decorator.
type Report struct {
	TestName        string                 `json:"test_name"`
	TestDescription string                 `json:"test_description"`
	ResultCode      int                    `json:"result_code"`
	TimestampStart  string                 `json:"timestamp_start"`
	TimestampEnd    string                 `json:"timestamp_end"`
	AdditionalInfo  map[string]interface{} `json:"additional_info,omitempty"`
}

// Runner executes resolved tests against a registry of probe implementations.
type Runner struct {
	Probes map[string]ProbeFunc
}

func NewRunner(probes map[string]ProbeFunc) *Runner {
	return &Runner{Probes: probes}
}

func rfc3339(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Run executes tests in the order given (callers are expected to pass the
// canonical-name-sorted output of Resolve), invoking each TestSet's setup
// once before its first test in the run and its teardown once after its
// last, per the grouping-by-contiguous-test-set contract.
func (r *Runner) Run(ctx context.Context, tests []ResolvedTest) []Report {
	var reports []Report

	groupKey := func(rt ResolvedTest) string {
		return CanonicalName(rt.PackagePath, rt.Module.Name) + "." + rt.TestSet.Name
	}

	for i := 0; i < len(tests); {
		j := i
		key := groupKey(tests[i])
		for j < len(tests) && groupKey(tests[j]) == key {
			j++
		}
		reports = append(reports, r.runGroup(ctx, tests[i:j])...)
		i = j
	}
	return reports
}

func (r *Runner) runGroup(ctx context.Context, group []ResolvedTest) []Report {
	if len(group) == 0 {
		return nil
	}
	ts := group[0].TestSet
	var reports []Report

	setupFailed := false
	if ts.Setup != nil {
		start := time.Now()
		code, info, err := r.invoke(ctx, ts.Setup)
		if err != nil {
			setupFailed = true
			reports = append(reports, Report{
				TestName:        ts.Name + ".setup",
				TestDescription: "test set setup",
				ResultCode:      0,
				TimestampStart:  rfc3339(start),
				TimestampEnd:    rfc3339(time.Now()),
				AdditionalInfo:  map[string]interface{}{"error": err.Error()},
			})
		} else if code == 0 {
			setupFailed = true
			if info == nil {
				info = map[string]interface{}{}
			}
			reports = append(reports, Report{
				TestName:        ts.Name + ".setup",
				TestDescription: "test set setup",
				ResultCode:      0,
				TimestampStart:  rfc3339(start),
				TimestampEnd:    rfc3339(time.Now()),
				AdditionalInfo:  info,
			})
		}
	}

	if !setupFailed {
		for _, rt := range group {
			reports = append(reports, r.runTest(ctx, rt))
		}
	}

	if ts.Teardown != nil {
		start := time.Now()
		code, info, err := r.invoke(ctx, ts.Teardown)
		if err != nil {
			reports = append(reports, Report{
				TestName:        ts.Name + ".teardown",
				TestDescription: "test set teardown",
				ResultCode:      0,
				TimestampStart:  rfc3339(start),
				TimestampEnd:    rfc3339(time.Now()),
				AdditionalInfo:  map[string]interface{}{"error": err.Error()},
			})
		} else if code == 0 && info != nil {
			reports = append(reports, Report{
				TestName:        ts.Name + ".teardown",
				TestDescription: "test set teardown",
				ResultCode:      0,
				TimestampStart:  rfc3339(start),
				TimestampEnd:    rfc3339(time.Now()),
				AdditionalInfo:  info,
			})
		}
	}

	return reports
}

func (r *Runner) runTest(ctx context.Context, rt ResolvedTest) Report {
	start := time.Now()
	probe, ok := r.Probes[rt.Test.Kind]
	if !ok {
		return Report{
			TestName:        rt.Test.Name,
			TestDescription: rt.Test.Description,
			ResultCode:      0,
			TimestampStart:  rfc3339(start),
			TimestampEnd:    rfc3339(time.Now()),
			AdditionalInfo:  map[string]interface{}{"error": "unknown probe kind: " + rt.Test.Kind},
		}
	}

	code, info, err := probe(ctx, rt.Test.Params)
	end := time.Now()
	if err != nil {
		if info == nil {
			info = map[string]interface{}{}
		}
		info["unhandled_exception"] = err.Error()
		code = 0
	}
	return Report{
		TestName:        rt.Test.Name,
		TestDescription: rt.Test.Description,
		ResultCode:      code,
		TimestampStart:  rfc3339(start),
		TimestampEnd:    rfc3339(end),
		AdditionalInfo:  info,
	}
}

func (r *Runner) invoke(ctx context.Context, p *Probe) (int, map[string]interface{}, error) {
	probe, ok := r.Probes[p.Kind]
	if !ok {
		return 0, nil, errUnknownProbe(p.Kind)
	}
	return probe(ctx, p.Params)
}

type errUnknownProbe string

func (e errUnknownProbe) Error() string { return "unknown probe kind: " + string(e) }
