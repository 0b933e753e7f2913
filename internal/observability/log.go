package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

// LogEvent writes one structured JSON log line, enriched with whatever
// RunInfo identifiers are attached to ctx. A nil ctx is treated as empty.
func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.CorrelationID != "" {
		payload["correlation_id"] = info.CorrelationID
	}
	if info.StrategyID != "" {
		payload["strategy_id"] = info.StrategyID
	}
	if info.ExecutionGroupID != "" {
		payload["execution_group_id"] = info.ExecutionGroupID
	}
	if info.InstrumentToken != "" {
		payload["instrument_token"] = info.InstrumentToken
	}

	for key, value := range normalizeFields(fields) {
		if isSensitiveKey(key) {
			payload[key] = redactedValue
			continue
		}
		payload[key] = RedactValue(value)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
