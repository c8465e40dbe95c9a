package redisstore

// luaSaveResume stores a resume record and keeps the status index sets in
// step with it, atomically.
//
// KEYS[1] = record key (JSON string)
// KEYS[2] = set of all execution ARNs
// ARGV[1] = record JSON string
// ARGV[2] = record status
// ARGV[3] = status index key prefix (status is appended)
// ARGV[4] = execution ARN
// ARGV[5] = "1" to only store when no record exists yet
//
// Returns: 1 if stored, 0 if skipped because the record already existed
const luaSaveResume = `
local old = redis.call('GET', KEYS[1])
if old and ARGV[5] == '1' then
  return 0
end

if old then
  local prev = cjson.decode(old)
  local prevStatus = prev['status']
  if prevStatus and prevStatus ~= ARGV[2] then
    redis.call('SREM', ARGV[3] .. prevStatus, ARGV[4])
  end
end

redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', ARGV[3] .. ARGV[2], ARGV[4])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`

// luaClaim moves due delayed messages and messages whose visibility timeout
// expired back onto the ready list, then pops one ready ID and marks it in
// flight in the same step, so an ID is always either ready or in flight.
//
// KEYS[1] = delayed zset (score = ready time, unix ms)
// KEYS[2] = inflight zset (score = visibility deadline, unix ms)
// KEYS[3] = ready list
// KEYS[4] = message hash
// ARGV[1] = now, unix ms
// ARGV[2] = visibility deadline, unix ms
//
// Returns: {id, body}, or nil when nothing is ready
const luaClaim = `
for i = 1, 2 do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1])
  for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[i], id)
    redis.call('LPUSH', KEYS[3], id)
  end
end
while true do
  local id = redis.call('RPOP', KEYS[3])
  if not id then
    return false
  end
  local body = redis.call('HGET', KEYS[4], id)
  if body then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    return {id, body}
  end
end
`
