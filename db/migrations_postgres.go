package db

// PostgreSQL migrations for the profiler schema

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_profiler_profiles_table",
		Up: `
			CREATE TABLE IF NOT EXISTS profiler_profiles (
				id TEXT PRIMARY KEY,
				seed_url TEXT NOT NULL UNIQUE,
				data TEXT NOT NULL,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_profiler_profiles_created_at ON profiler_profiles(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_profiler_profiles_created_at;
			DROP TABLE IF EXISTS profiler_profiles;
		`,
	},
	{
		Version: 2,
		Name:    "add_profiles_slug",
		Up: `
			ALTER TABLE profiler_profiles ADD COLUMN IF NOT EXISTS slug TEXT NOT NULL DEFAULT '';
			CREATE INDEX IF NOT EXISTS idx_profiler_profiles_slug ON profiler_profiles(slug);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_profiler_profiles_slug;
			ALTER TABLE profiler_profiles DROP COLUMN IF EXISTS slug;
		`,
	},
	{
		Version: 3,
		Name:    "add_profiles_updated_at_index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_profiler_profiles_updated_at ON profiler_profiles(updated_at DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_profiler_profiles_updated_at;
		`,
	},
}
