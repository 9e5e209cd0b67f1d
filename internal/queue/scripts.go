package queue

import "github.com/redis/go-redis/v9"

// Each script below does one multi-key queue operation atomically. Field
// names in the per-job hash are kept short since the hash is written and
// read on every dequeue: pay=payload, to=timeout, cr=current_retries,
// mr=max_retries, rb=retry_backoff, ra=run_at, ea=enqueued_at,
// st=started_at, en=ended_at, suc=succeeded, err=error_details.

// enqueueScript writes the job hash and places its id on the pending
// list or the scheduled set.
// KEYS: 1 job data key, 2 pending list, 3 scheduled zset, 4 stats hash
// ARGV: 1 id, 2 payload, 3 timeout_ms, 4 max_retries, 5 retry_backoff_ms,
//       6 enqueued_at_ms, 7 run_at_ms ("" if not scheduled)
var enqueueScript = redis.NewScript(`
local id = ARGV[1]
redis.call("HSET", KEYS[1],
    "pay", ARGV[2],
    "to", ARGV[3],
    "cr", "0",
    "mr", ARGV[4],
    "rb", ARGV[5],
    "ea", ARGV[6])

if ARGV[7] ~= "" then
    redis.call("HSET", KEYS[1], "ra", ARGV[7])
    redis.call("ZADD", KEYS[3], ARGV[7], id)
    redis.call("HINCRBY", KEYS[4], "scheduled", 1)
else
    redis.call("LPUSH", KEYS[2], id)
end
redis.call("HINCRBY", KEYS[4], "enqueued", 1)
return 1
`)

// enqueueScheduledScript moves every scheduled item whose score (run_at
// ms) has passed into the pending list and returns the count moved.
// KEYS: 1 scheduled zset, 2 pending list, 3 stats hash
// ARGV: 1 now_ms
var enqueueScheduledScript = redis.NewScript(`
local ready = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #ready == 0 then
    return 0
end

for _, id in ipairs(ready) do
    redis.call("ZREM", KEYS[1], id)
    redis.call("LPUSH", KEYS[2], id)
end
redis.call("HINCRBY", KEYS[3], "enqueued", #ready)
return #ready
`)

// dequeueScript atomically pops one pending job id and places it in the
// processing set scored by its expiration (now + its configured
// timeout), replacing the original's separate get_job/start_work steps.
// KEYS: 1 pending list, 2 processing zset, 3 stats hash
// ARGV: 1 now_ms
// job data key is not a KEYS entry since it's only known after the pop;
// it's addressed directly as "erq:<queue>:job:"..id inside the script.
var dequeueScript = redis.NewScript(`
local id = redis.call("RPOP", KEYS[1])
if not id then
    return false
end

local prefix = string.match(KEYS[1], "^(.*):pending$")
local jobKey = prefix .. ":job:" .. id

local to = redis.call("HGET", jobKey, "to")
if not to then
    -- Job data vanished (expired or never written); drop the id.
    return false
end

local expiration = tonumber(ARGV[1]) + tonumber(to)
redis.call("ZADD", KEYS[2], expiration, id)
redis.call("HSET", jobKey, "st", ARGV[1])
redis.call("HINCRBY", KEYS[3], "retrieved", 1)
return id
`)

// doneScript marks a job successful, but only if the caller still owns
// it (its processing-set score still matches the expiration it was
// handed at dequeue time) -- the ownership check that detects a stale
// worker racing a requeued job.
// KEYS: 1 job data key, 2 processing zset, 3 done list, 4 stats hash
// ARGV: 1 id, 2 now_ms, 3 expected_expiration_ms
var doneScript = redis.NewScript(`
local score = redis.call("ZSCORE", KEYS[2], ARGV[1])
if score ~= ARGV[3] then
    return false
end

redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("LPUSH", KEYS[3], ARGV[1])
redis.call("HSET", KEYS[1], "en", ARGV[2], "suc", "true")
redis.call("HINCRBY", KEYS[4], "succeeded", 1)
return true
`)

// errorScript records a failure. If the job has retries remaining it is
// rescheduled with exponential backoff (next = now + 2^current_retry *
// retry_backoff); otherwise it's moved to the done list marked failed.
// Returns false if the caller no longer owns the job.
// KEYS: 1 job data key, 2 processing zset, 3 scheduled zset, 4 done list,
//       5 stats hash
// ARGV: 1 id, 2 now_ms, 3 expected_expiration_ms, 4 error message
var errorScript = redis.NewScript(`
local score = redis.call("ZSCORE", KEYS[2], ARGV[1])
if score ~= ARGV[3] then
    return false
end
redis.call("ZREM", KEYS[2], ARGV[1])

local cr = tonumber(redis.call("HGET", KEYS[1], "cr")) or 0
local mr = tonumber(redis.call("HGET", KEYS[1], "mr")) or 0
local rb = tonumber(redis.call("HGET", KEYS[1], "rb")) or 0

if cr < mr then
    local backoff = (2 ^ cr) * rb
    cr = cr + 1
    local nextRun = tonumber(ARGV[2]) + backoff
    redis.call("HSET", KEYS[1], "cr", cr, "err", ARGV[4])
    redis.call("ZADD", KEYS[3], nextRun, ARGV[1])
    redis.call("HINCRBY", KEYS[5], "retried", 1)
else
    redis.call("HSET", KEYS[1], "en", ARGV[2], "suc", "false", "err", ARGV[4])
    redis.call("LPUSH", KEYS[4], ARGV[1])
    redis.call("HINCRBY", KEYS[5], "failed", 1)
end

return true
`)

// cancelScript removes a job from whichever collection currently holds
// it. Returns four values: was_pending, was_processing, was_scheduled
// (each "1"/"0"), and the job's recorded success flag if it had already
// finished ("true"/"false"/"").
// KEYS: 1 job data key, 2 processing zset, 3 pending list, 4 scheduled
//       zset
// ARGV: 1 id, 2 now_ms, 3 cancel_if_running ("1"/"0")
var cancelScript = redis.NewScript(`
local removed_pending = redis.call("LREM", KEYS[3], 1, ARGV[1])
local removed_scheduled = redis.call("ZREM", KEYS[4], ARGV[1])
local was_processing = redis.call("ZSCORE", KEYS[2], ARGV[1])

local suc = redis.call("HGET", KEYS[1], "suc") or ""

if was_processing then
    if ARGV[3] == "1" then
        redis.call("ZREM", KEYS[2], ARGV[1])
        redis.call("HSET", KEYS[1], "en", ARGV[2], "err", "canceled")
    end
end

local was_processing_flag = "0"
if was_processing then
    was_processing_flag = "1"
end

local was_pending_flag = "0"
if removed_pending == 1 then
    was_pending_flag = "1"
end

local was_scheduled_flag = "0"
if removed_scheduled == 1 then
    was_scheduled_flag = "1"
end

return {was_pending_flag, was_processing_flag, was_scheduled_flag, suc}
`)

// updateScript changes a job's schedule and/or payload in place. A
// pending/scheduled job's data can be edited up until it's dequeued;
// used to reschedule or to patch the payload of a not-yet-run job.
// KEYS: 1 job data key, 2 scheduled zset
// ARGV: 1 id, 2 run_at_ms (empty string = leave unchanged), 3 payload
//       (empty string = leave unchanged)
var updateScript = redis.NewScript(`
local exists = redis.call("EXISTS", KEYS[1])
if exists == 0 then
    return false
end

if ARGV[2] ~= "" then
    redis.call("HSET", KEYS[1], "ra", ARGV[2])
    redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
end

if ARGV[3] ~= "" then
    redis.call("HSET", KEYS[1], "pay", ARGV[3])
end

return true
`)
