/*
This file reads pool yield reports written by the yield collectors into pool_yield_reports.

Only the latest report per pool is used. Reports older than the configured age are dropped so
the optimizer never ranks pools on stale rates.
*/

package datafetcher

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/state"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
)

var poolLogger = logger.GetForComponent("pool_retriever")

var ErrInvalidPoolData = errors.New("invalid pool data")

// curveParamsJSON is the collector's curve_params column.
type curveParamsJSON struct {
	Model string            `json:"model"`
	Aave  *types.AaveCurve  `json:"aave"`
	Felix *types.FelixCurve `json:"felix"`
}

// YieldReport is one raw pool_yield_reports row.
type YieldReport struct {
	Pool        string
	Protocol    string
	APY         float64
	APR         float64
	TVL         float64
	Utilization float64
	CurveParams []byte
	ReportedAt  time.Time
}

// YieldReportReader loads the latest report per pool from Postgres.
type YieldReportReader struct {
	maxAge time.Duration
	now    func() time.Time
}

func NewYieldReportReader(maxAge time.Duration) *YieldReportReader {
	return &YieldReportReader{maxAge: maxAge, now: time.Now}
}

// LatestPoolParams returns optimizer input for every pool with a fresh, valid report, limited to
// the given pools when the list is non-empty.
func (r *YieldReportReader) LatestPoolParams(ctx context.Context, pools []common.Address) (map[common.Address]types.CurvePoolParams, error) {
	if state.DB == nil {
		return nil, state.ErrDBNotInitialized
	}

	rows, err := state.DB.QueryContext(ctx, `
		SELECT DISTINCT ON (LOWER(pool_address))
			pool_address, protocol, apy, apr, tvl, utilization, curve_params, reported_at
		FROM pool_yield_reports
		ORDER BY LOWER(pool_address), reported_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool yield reports: %w", err)
	}
	defer rows.Close()

	var reports []YieldReport
	for rows.Next() {
		var rep YieldReport
		var curve sql.RawBytes
		if err := rows.Scan(&rep.Pool, &rep.Protocol, &rep.APY, &rep.APR, &rep.TVL, &rep.Utilization, &curve, &rep.ReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pool yield report: %w", err)
		}
		rep.CurveParams = append([]byte(nil), curve...)
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return r.BuildPoolParams(reports, pools), nil
}

// BuildPoolParams validates reports and converts them to optimizer input. Invalid or stale
// reports are logged and skipped.
func (r *YieldReportReader) BuildPoolParams(reports []YieldReport, pools []common.Address) map[common.Address]types.CurvePoolParams {
	allowed := make(map[common.Address]bool, len(pools))
	for _, p := range pools {
		allowed[p] = true
	}

	out := make(map[common.Address]types.CurvePoolParams)
	for _, rep := range reports {
		params, err := decodeReport(rep)
		if err != nil {
			poolLogger.Warn().Err(err).Str("pool", rep.Pool).Msg("BuildPoolParams: skipping invalid report")
			continue
		}
		if len(allowed) > 0 && !allowed[params.Address] {
			continue
		}
		if r.maxAge > 0 && r.now().Sub(params.ReportedAt) > r.maxAge {
			poolLogger.Warn().Str("pool", rep.Pool).Time("reportedAt", params.ReportedAt).Msg("BuildPoolParams: skipping stale report")
			continue
		}
		if prev, ok := out[params.Address]; ok && prev.ReportedAt.After(params.ReportedAt) {
			continue
		}
		out[params.Address] = params
	}

	poolLogger.Info().Int("reports", len(reports)).Int("usable", len(out)).Msg("BuildPoolParams: pool yield data loaded")
	return out
}

func decodeReport(rep YieldReport) (types.CurvePoolParams, error) {
	if !common.IsHexAddress(rep.Pool) {
		return types.CurvePoolParams{}, errors.Join(ErrInvalidPoolData, fmt.Errorf("invalid address %q", rep.Pool))
	}
	for name, v := range map[string]float64{"apy": rep.APY, "apr": rep.APR, "tvl": rep.TVL, "utilization": rep.Utilization} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return types.CurvePoolParams{}, errors.Join(ErrInvalidPoolData, fmt.Errorf("%s is %v", name, v))
		}
	}
	if rep.Utilization > 1 {
		return types.CurvePoolParams{}, errors.Join(ErrInvalidPoolData, fmt.Errorf("utilization %v above 1", rep.Utilization))
	}

	addr := common.HexToAddress(rep.Pool)
	params := types.CurvePoolParams{
		Address:     addr,
		Protocol:    rep.Protocol,
		Model:       types.CurveModelAave,
		CurrentAPY:  rep.APY,
		CurrentAPR:  rep.APR,
		TVL:         rep.TVL,
		Utilization: rep.Utilization,
		ReportedAt:  rep.ReportedAt,
	}
	if params.Protocol == "" {
		params.Protocol = config.ProtocolName(addr)
	}
	if info, ok := config.PoolRegistry[addr]; ok && info.Model != "" {
		params.Model = types.CurveModel(info.Model)
	}

	if len(rep.CurveParams) > 0 && string(rep.CurveParams) != "null" {
		var curve curveParamsJSON
		if err := json.Unmarshal(rep.CurveParams, &curve); err != nil {
			return types.CurvePoolParams{}, errors.Join(ErrInvalidPoolData, fmt.Errorf("curve_params: %w", err))
		}
		if m := types.CurveModel(strings.ToLower(curve.Model)); m == types.CurveModelAave || m == types.CurveModelFelix {
			params.Model = m
		}
		params.Aave = curve.Aave
		params.Felix = curve.Felix
	}
	if params.Model == types.CurveModelFelix && params.Felix == nil {
		params.Model = types.CurveModelAave
	}
	return params, nil
}
