package db

// SchemaSQL defines the run table. Outcomes are embedded in their run.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON run TYPE string
        ASSERT $value IN ["created", "running", "completed", "aborted", "failed"];
    DEFINE FIELD IF NOT EXISTS description ON run TYPE string;
    DEFINE FIELD IF NOT EXISTS locator ON run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS total ON run TYPE int;
    DEFINE FIELD IF NOT EXISTS completed ON run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS outcomes ON run TYPE array<object> FLEXIBLE DEFAULT [];
    -- REMOVE then DEFINE so FLEXIBLE applies to existing fields too
    REMOVE FIELD IF EXISTS outcomes.* ON run;
    DEFINE FIELD outcomes.* ON run TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON run TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS run_status ON run FIELDS status;
    DEFINE INDEX IF NOT EXISTS run_started_at ON run FIELDS started_at;
`
