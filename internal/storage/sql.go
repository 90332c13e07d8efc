package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      mode,
                      device_id,
                      config)
VALUES (CURRENT_TIMESTAMP, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    mode,
    device_id,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    mode,
    device_id,
    config
FROM sessions
ORDER BY start_time`

	insertSwitchEventSQL = `
INSERT INTO switch_events (session_id,
                           timestamp,
                           port,
                           triggered_by)
VALUES (?, ?, ?, ?)`

	selectSwitchEventsSQL = `
SELECT
    id,
    session_id,
    timestamp,
    port,
    triggered_by
FROM switch_events
WHERE
    session_id = ?
ORDER BY timestamp, id`
)

//go:embed schema.sql
var initSchemaSQL string
