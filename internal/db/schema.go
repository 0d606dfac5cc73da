package db

// SchemaSQL defines the pipeline tables. Record ids are the natural keys:
// site/extraction/quality_status/dead_letter rows are keyed by custom id,
// batch_job rows by batch id, so every write is a single-key operation.
const SchemaSQL = `
    -- ==========================================================================
    -- SITE CATALOG
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS site SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS custom_id ON site TYPE string;
    DEFINE FIELD IF NOT EXISTS deal_id ON site TYPE string;
    DEFINE FIELD IF NOT EXISTS domain ON site TYPE string;
    DEFINE FIELD IF NOT EXISTS url ON site TYPE string;
    DEFINE FIELD IF NOT EXISTS blob_key ON site TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON site TYPE string;
    DEFINE FIELD IF NOT EXISTS size_bytes ON site TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS discovered_at ON site TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS site_custom_id ON site FIELDS custom_id UNIQUE;

    -- ==========================================================================
    -- BATCH JOB MANIFEST
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS batch_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS batch_id ON batch_job TYPE int;
    DEFINE FIELD IF NOT EXISTS state ON batch_job TYPE string;
    DEFINE FIELD IF NOT EXISTS item_keys ON batch_job TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS item_count ON batch_job TYPE int;
    DEFINE FIELD IF NOT EXISTS size_bytes ON batch_job TYPE int;
    DEFINE FIELD IF NOT EXISTS request_key ON batch_job TYPE string;
    DEFINE FIELD IF NOT EXISTS external_job_id ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS input_file_id ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS output_key ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON batch_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS submitted_at ON batch_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS last_polled_at ON batch_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON batch_job TYPE option<datetime>;
    DEFINE INDEX IF NOT EXISTS batch_job_state ON batch_job FIELDS state;
    DEFINE INDEX IF NOT EXISTS batch_job_batch_id ON batch_job FIELDS batch_id UNIQUE;

    -- ==========================================================================
    -- EXTRACTION RESULTS (main consolidation table)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS extraction SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS custom_id ON extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS deal_id ON extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS domain ON extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS url ON extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS scrape_status ON extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS error_code ON extraction TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS sectorial_niches ON extraction TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS end_markets ON extraction TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS product_offerings ON extraction TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS service_offerings ON extraction TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS core_activities ON extraction TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS raw_output ON extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS batch_id ON extraction TYPE int;
    DEFINE FIELD IF NOT EXISTS extracted_at ON extraction TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS extraction_custom_id ON extraction FIELDS custom_id UNIQUE;

    -- ==========================================================================
    -- QUALITY STATUS (identity + outcome; the processed-key index)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS quality_status SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS custom_id ON quality_status TYPE string;
    DEFINE FIELD IF NOT EXISTS deal_id ON quality_status TYPE string;
    DEFINE FIELD IF NOT EXISTS domain ON quality_status TYPE string;
    DEFINE FIELD IF NOT EXISTS url ON quality_status TYPE string;
    DEFINE FIELD IF NOT EXISTS scrape_status ON quality_status TYPE string;
    DEFINE FIELD IF NOT EXISTS error_code ON quality_status TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS result_status ON quality_status TYPE string;
    DEFINE INDEX IF NOT EXISTS quality_custom_id ON quality_status FIELDS custom_id UNIQUE;

    -- ==========================================================================
    -- DEAD LETTERS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS dead_letter SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS custom_id ON dead_letter TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON dead_letter TYPE string;
    DEFINE FIELD IF NOT EXISTS error ON dead_letter TYPE string;
    DEFINE FIELD IF NOT EXISTS batch_id ON dead_letter TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS raw_payload ON dead_letter TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS recorded_at ON dead_letter TYPE datetime DEFAULT time::now();
`
