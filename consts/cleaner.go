package consts

import "time"

const CLEANUP_GRACE_PERIOD = time.Hour * 24 * 14
const CLEANUP_INTERVAL = time.Minute * 60

// Journal rows older than this no longer matter to any live session
// and get trimmed by the cleaner.
const JOURNAL_RETENTION = time.Hour * 24 * 14
