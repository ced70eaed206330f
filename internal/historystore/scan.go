package historystore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"genflow/internal/generation"
	"genflow/internal/services"
)

const insertColumns = "id, kind, provider, model, prompt, system_prompt, template_id, template_version, brand_id, variables_json, parameters_json, metadata_json, status, artifact_ref, result_text, mime_type, error_message, error_kind, duration_ms, cost, rendered_prompt, created_at, started_at, finished_at"

const recordColumns = insertColumns

func recordArgs(rec generation.Record) ([]any, error) {
	variables, err := marshalMap(rec.Variables)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	parameters, err := marshalMap(rec.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	metadata, err := marshalMap(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	var cost any
	if rec.Cost != nil {
		cost = *rec.Cost
	}
	return []any{
		rec.ID,
		string(rec.Kind),
		rec.Provider,
		nullableString(rec.Model),
		rec.Prompt,
		nullableString(rec.SystemPrompt),
		nullableString(rec.TemplateID),
		nullableString(rec.TemplateVersion),
		nullableString(rec.BrandID),
		variables,
		parameters,
		metadata,
		string(rec.Status),
		nullableString(rec.Result.ArtifactRef),
		nullableString(rec.Result.Text),
		nullableString(rec.Result.MIMEType),
		nullableString(rec.Error),
		nullableString(string(rec.ErrorKind)),
		rec.Duration.Milliseconds(),
		cost,
		nullableString(rec.RenderedPrompt),
		formatTime(rec.CreatedAt),
		nullableTime(rec.StartedAt),
		nullableTime(rec.FinishedAt),
	}, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (generation.Record, error) {
	var (
		id              string
		kind            string
		provider        string
		model           sql.NullString
		prompt          string
		systemPrompt    sql.NullString
		templateID      sql.NullString
		templateVersion sql.NullString
		brandID         sql.NullString
		variablesJSON   sql.NullString
		parametersJSON  sql.NullString
		metadataJSON    sql.NullString
		status          string
		artifactRef     sql.NullString
		resultText      sql.NullString
		mimeType        sql.NullString
		errorMessage    sql.NullString
		errorKind       sql.NullString
		durationMS      int64
		cost            sql.NullFloat64
		renderedPrompt  sql.NullString
		createdRaw      string
		startedRaw      sql.NullString
		finishedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&kind,
		&provider,
		&model,
		&prompt,
		&systemPrompt,
		&templateID,
		&templateVersion,
		&brandID,
		&variablesJSON,
		&parametersJSON,
		&metadataJSON,
		&status,
		&artifactRef,
		&resultText,
		&mimeType,
		&errorMessage,
		&errorKind,
		&durationMS,
		&cost,
		&renderedPrompt,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return generation.Record{}, err
	}

	rec := generation.Record{
		ID:              id,
		Kind:            generation.Kind(kind),
		Provider:        provider,
		Model:           model.String,
		Prompt:          prompt,
		SystemPrompt:    systemPrompt.String,
		TemplateID:      templateID.String,
		TemplateVersion: templateVersion.String,
		BrandID:         brandID.String,
		Status:          generation.Status(status),
		Result: generation.Result{
			ArtifactRef: artifactRef.String,
			Text:        resultText.String,
			MIMEType:    mimeType.String,
		},
		Error:          errorMessage.String,
		ErrorKind:      services.ErrorKind(errorKind.String),
		Duration:       time.Duration(durationMS) * time.Millisecond,
		RenderedPrompt: renderedPrompt.String,
	}
	if cost.Valid {
		value := cost.Float64
		rec.Cost = &value
	}
	if err := unmarshalMap(variablesJSON, &rec.Variables); err != nil {
		return generation.Record{}, fmt.Errorf("decode variables for %s: %w", id, err)
	}
	if err := unmarshalMap(parametersJSON, &rec.Parameters); err != nil {
		return generation.Record{}, fmt.Errorf("decode parameters for %s: %w", id, err)
	}
	if err := unmarshalMap(metadataJSON, &rec.Metadata); err != nil {
		return generation.Record{}, fmt.Errorf("decode metadata for %s: %w", id, err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if started, err := parseTimeString(startedRaw.String); err == nil {
		rec.StartedAt = started
	}
	if finished, err := parseTimeString(finishedRaw.String); err == nil {
		rec.FinishedAt = finished
	}
	return rec, nil
}

func marshalMap[M ~map[string]V, V any](m M) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalMap[M ~map[string]V, V any](raw sql.NullString, dst *M) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
