package postgresql

// migrations returns the versioned schema migrations for the PostgreSQL
// persistence layer.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_templates (
				id TEXT PRIMARY KEY,
				stage TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_templates_stage
				ON workflow_templates (stage);

			CREATE TABLE IF NOT EXISTS workflow_executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_executions_status
				ON workflow_executions (status);

			CREATE TABLE IF NOT EXISTS drafts (
				key TEXT PRIMARY KEY,
				value JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
