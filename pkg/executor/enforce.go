package executor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"drapo/pkg/models"
)

// RunAll runs flows one after another. A flow that aborts is logged and
// the next one still runs, except after a process-fatal step, which stops
// everything and is returned.
func (e *Engine) RunAll(ctx context.Context, flows []models.Flow, jobs models.JobTable, opts models.RunOptions) ([]*models.FlowReport, error) {
	reports := make([]*models.FlowReport, 0, len(flows))
	for _, flow := range flows {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report := e.Run(ctx, flow, jobs, opts)
		reports = append(reports, report)
		if errors.Is(report.Err, ErrProcessFatal) {
			return reports, report.Err
		}
		if report.Err != nil {
			e.log.Error("flow failed, continuing with next flow", zap.String("flow", flow.Name), zap.Error(report.Err))
		}
	}
	return reports, nil
}
