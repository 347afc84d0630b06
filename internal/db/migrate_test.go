package db

import (
	"strings"
	"testing"
)

func schemaText() string {
	return strings.Join(schemaStatements, "\n")
}

func statementFor(t *testing.T, needle string) string {
	t.Helper()
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, needle) {
			return stmt
		}
	}
	t.Fatalf("no schema statement mentions %q", needle)
	return ""
}

func TestActiveDocumentIndexCoversAllNonTerminalStatuses(t *testing.T) {
	stmt := statementFor(t, "uq_applications_active_document")

	// An APPROVED application is still active and must keep blocking a
	// second one for the same document, so the predicate has to exclude
	// only the statuses that end the lifecycle.
	if !strings.Contains(stmt, "NOT IN ('CANCELLED','REJECTED','COMPLETED')") {
		t.Errorf("active-document predicate must exclude only terminal statuses:\n%s", stmt)
	}
	if !strings.Contains(stmt, "deleted_at IS NULL") {
		t.Errorf("soft-deleted rows must not hold the active slot:\n%s", stmt)
	}
}

func TestApplicationsTableCarriesLifecycleColumns(t *testing.T) {
	stmt := statementFor(t, "CREATE TABLE IF NOT EXISTS applications")
	for _, col := range []string{"deleted_at", "country_specific_data", "idempotency_key"} {
		if !strings.Contains(stmt, col) {
			t.Errorf("applications is missing column %q", col)
		}
	}
}

func TestJobTablesCarryRetryBookkeeping(t *testing.T) {
	pending := statementFor(t, "CREATE TABLE IF NOT EXISTS pending_jobs")
	for _, col := range []string{"job_kwargs", "updated_at", "max_retries"} {
		if !strings.Contains(pending, col) {
			t.Errorf("pending_jobs is missing column %q", col)
		}
	}

	failed := statementFor(t, "CREATE TABLE IF NOT EXISTS failed_jobs")
	for _, col := range []string{"job_kwargs", "max_retries", "error_traceback", "updated_at"} {
		if !strings.Contains(failed, col) {
			t.Errorf("failed_jobs is missing column %q", col)
		}
	}
	for _, status := range []string{"'reprocessed'", "'ignored'"} {
		if !strings.Contains(failed, status) {
			t.Errorf("failed_jobs status check is missing %s", status)
		}
	}
}

func TestTriggersArePresent(t *testing.T) {
	text := schemaText()
	for _, trigger := range []string{
		"trigger_enqueue_application_processing",
		"audit_status_change",
		"update_applications_updated_at",
		"update_pending_jobs_updated_at",
		"update_failed_jobs_updated_at",
	} {
		if !strings.Contains(text, "CREATE TRIGGER "+trigger) {
			t.Errorf("schema is missing trigger %s", trigger)
		}
	}
}
