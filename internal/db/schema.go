package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- CASE GRAPH
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS type ON entity TYPE string DEFAULT "Entity";
    DEFINE FIELD IF NOT EXISTS properties ON entity TYPE object FLEXIBLE DEFAULT {};
    DEFINE FIELD IF NOT EXISTS case_id ON entity TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON entity TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS entity_type ON entity FIELDS type;

    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS case_id ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON document TYPE datetime DEFAULT time::now();

    -- Edges carry a key computed by the writer: source|type|target|doc_id
    DEFINE TABLE IF NOT EXISTS relates TYPE RELATION IN entity OUT entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS key ON relates TYPE string;
    DEFINE FIELD IF NOT EXISTS rel_type ON relates TYPE string;
    DEFINE FIELD IF NOT EXISTS properties ON relates TYPE object FLEXIBLE DEFAULT {};
    DEFINE FIELD IF NOT EXISTS created ON relates TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS relates_key ON relates FIELDS key UNIQUE;

    -- document -> entity, keyed doc|entity
    DEFINE TABLE IF NOT EXISTS mentions TYPE RELATION IN document OUT entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS key ON mentions TYPE string;
    DEFINE FIELD IF NOT EXISTS created ON mentions TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS mentions_key ON mentions FIELDS key UNIQUE;

    -- ==========================================================================
    -- TIMELINE
    -- ==========================================================================
    -- Record id is [case_id, event_id]; derived fields are rewritten by enrichment.
    DEFINE TABLE IF NOT EXISTS timeline_event SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS timeline_event_case ON timeline_event FIELDS case_id;

    -- ==========================================================================
    -- WORKFLOW RUNS
    -- ==========================================================================
    -- Run documents are replaced whole on every transition.
    DEFINE TABLE IF NOT EXISTS workflow_run SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS workflow_run_case ON workflow_run FIELDS case_id;
    DEFINE INDEX IF NOT EXISTS workflow_run_status ON workflow_run FIELDS status;

    -- Append-only run log.
    DEFINE TABLE IF NOT EXISTS run_event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS case_id ON run_event TYPE string;
    DEFINE FIELD IF NOT EXISTS run_id ON run_event TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON run_event TYPE int;
    DEFINE FIELD IF NOT EXISTS event ON run_event TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON run_event TYPE datetime;
    DEFINE FIELD IF NOT EXISTS payload ON run_event TYPE object FLEXIBLE DEFAULT {};
    DEFINE INDEX IF NOT EXISTS run_event_seq ON run_event FIELDS run_id, seq UNIQUE;

    DEFINE TABLE IF NOT EXISTS phase_run SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS phase_run_run ON phase_run FIELDS run_id;
`
