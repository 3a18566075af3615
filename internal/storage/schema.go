package storage

const schema = `
-- The 'cards' table stores the question content. It is owned by
-- whatever seeds the database; the scheduler never modifies it.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    question TEXT NOT NULL,
    answers TEXT NOT NULL DEFAULT '[]',      -- JSON array of answer options
    explanation TEXT NOT NULL DEFAULT ''
);

-- The 'progress' table holds the per-card SRS state for the single
-- user of this database. A card without a row here is "new".
CREATE TABLE IF NOT EXISTS progress (
    card_id INTEGER PRIMARY KEY,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    review_count INTEGER NOT NULL DEFAULT 0,
    last_rating INTEGER,                     -- NULL until first rated
    next_review DATETIME,
    last_review DATETIME,
    suspended INTEGER NOT NULL DEFAULT 0,
    rating_history TEXT NOT NULL DEFAULT '[]', -- JSON array, append-only

    FOREIGN KEY(card_id) REFERENCES cards(id)
);

CREATE INDEX IF NOT EXISTS idx_progress_next_review ON progress(next_review);
CREATE INDEX IF NOT EXISTS idx_progress_last_review ON progress(last_review);
`
