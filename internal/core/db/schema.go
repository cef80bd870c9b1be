package db

func (db *DB) initSchema() error {
	schema := `
	-- Experiments table
	CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		battery_type TEXT,
		nominal_capacity REAL NOT NULL CHECK(nominal_capacity > 0),
		cell_ref TEXT,
		machine_ref TEXT,
		operator TEXT,
		temperature_avg REAL,
		temperature_min REAL,
		temperature_max REAL,
		start_date DATETIME,
		end_date DATETIME,
		soc_reference_step INTEGER,
		metadata TEXT,
		ingestion_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_experiments_name ON experiments(name);
	CREATE INDEX IF NOT EXISTS idx_experiments_start_date ON experiments(start_date);
	CREATE INDEX IF NOT EXISTS idx_experiments_cell_ref ON experiments(cell_ref);

	-- Steps table
	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment_id INTEGER NOT NULL,
		step_number INTEGER NOT NULL,
		step_type TEXT NOT NULL CHECK(step_type IN ('charge', 'discharge', 'rest', 'other')),
		original_step_type TEXT,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		duration REAL NOT NULL DEFAULT 0,
		voltage_start REAL,
		voltage_end REAL,
		current REAL,
		capacity REAL,
		energy REAL,
		total_capacity REAL,
		power REAL,
		temperature_start REAL,
		temperature_end REAL,
		temperature_min REAL,
		temperature_max REAL,
		temperature_avg REAL,
		c_rate REAL,
		soc_start REAL,
		soc_end REAL,
		ocv REAL,
		pre_test_rest_time REAL,
		annotation TEXT,
		UNIQUE(experiment_id, step_number),
		FOREIGN KEY (experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_steps_experiment_id ON steps(experiment_id);

	-- Measurements reference steps without owning them
	CREATE TABLE IF NOT EXISTS measurements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		step_id INTEGER NOT NULL,
		execution_time REAL NOT NULL,
		total_time REAL,
		timestamp DATETIME,
		voltage REAL,
		current REAL,
		capacity REAL,
		energy REAL,
		temperature REAL,
		c_rate REAL,
		soc REAL,
		FOREIGN KEY (step_id) REFERENCES steps(id) ON DELETE RESTRICT
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_step_id ON measurements(step_id);

	-- Processed files (dedup guard)
	CREATE TABLE IF NOT EXISTS processed_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_hash TEXT UNIQUE NOT NULL,
		filename TEXT NOT NULL,
		kind TEXT CHECK(kind IN ('step', 'detail')),
		row_count INTEGER,
		experiment_id INTEGER NOT NULL,
		ingestion_id TEXT,
		processed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_processed_files_experiment_id ON processed_files(experiment_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}
