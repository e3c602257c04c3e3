package postgres

// queryAttemptTrigger inserts the first trigger of a key or moves an
// expired one forward. When the window has not expired the WHERE guard
// leaves the row untouched and no row is returned. The conflicting row is
// locked before the guard is evaluated, so concurrent attempts serialize.
const queryAttemptTrigger = `
INSERT INTO subscription_triggers (subscription_id, correlation_key, discriminator, last_trigger)
VALUES ($1, $2, $3, $4)
ON CONFLICT (subscription_id, correlation_key, discriminator)
DO UPDATE SET last_trigger = EXCLUDED.last_trigger
WHERE subscription_triggers.last_trigger <= EXCLUDED.last_trigger - $5
RETURNING last_trigger
`

const queryDeleteTriggersBySubscription = `
DELETE FROM subscription_triggers
WHERE subscription_id = $1
`

const queryDeleteTriggersByProject = `
DELETE FROM subscription_triggers
WHERE correlation_key = $1
   OR correlation_key LIKE $2
`

const queryListTriggers = `
SELECT subscription_id, correlation_key, discriminator, last_trigger
FROM subscription_triggers
WHERE subscription_id = $1
ORDER BY correlation_key, discriminator
`
