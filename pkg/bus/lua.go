package bus

// Lua scripts run via Bus.Eval. Each is a single atomic server-side
// operation — the mechanism the spec requires so a guardrail check and its
// counter increment (or a lock check and its acquisition) can never
// interleave with a concurrent caller.

// AcquireWorkLockScript implements acquire-work-lock: KEYS[1] is the lock
// key, KEYS[2] is the ledger set key. ARGV[1] is the lock value (JSON),
// ARGV[2] is the TTL in seconds, ARGV[3] is the work-key member name.
// Returns 1 if acquired, 0 if already held.
const AcquireWorkLockScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`

// TryWakeScript implements the combined guardrail-check-and-record used by
// try-wake + record-wake. KEYS = {lastWakeKey, wakesTodayKey,
// sessionMinutesKey, pairCounterKey, concurrentSessionsKey}.
// ARGV = {nowUnixSeconds, cooldownSeconds, maxWakesPerDay, maxSessionMinutesPerDay,
//   maxWakesPerPair, maxConcurrentSessions, sessionMinutesReserve, dayTTLSeconds}.
// Returns {1, ""} on success (counters incremented) or {0, reason} on reject
// (no counters touched).
const TryWakeScript = `
local lastWake = tonumber(redis.call("GET", KEYS[1]) or "0")
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
if lastWake > 0 and (now - lastWake) < cooldown then
  return {0, "cooldown"}
end

local wakesToday = tonumber(redis.call("GET", KEYS[2]) or "0")
if wakesToday >= tonumber(ARGV[3]) then
  return {0, "daily_cap"}
end

local minutesToday = tonumber(redis.call("GET", KEYS[3]) or "0")
if minutesToday >= tonumber(ARGV[4]) then
  return {0, "session_budget"}
end

local pairCount = tonumber(redis.call("GET", KEYS[4]) or "0")
if pairCount >= tonumber(ARGV[5]) then
  return {0, "pair_cap"}
end

local concurrent = redis.call("SCARD", KEYS[5])
if concurrent >= tonumber(ARGV[6]) then
  return {0, "concurrency"}
end

redis.call("SET", KEYS[1], tostring(now))
redis.call("INCR", KEYS[2])
redis.call("EXPIRE", KEYS[2], ARGV[8])
redis.call("INCRBY", KEYS[3], ARGV[7])
redis.call("EXPIRE", KEYS[3], ARGV[8])
redis.call("INCR", KEYS[4])
redis.call("EXPIRE", KEYS[4], ARGV[8])

return {1, ""}
`
