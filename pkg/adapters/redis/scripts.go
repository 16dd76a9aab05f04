package redis

import backend "github.com/redis/go-redis/v9"

// Sessions are stored as hashes with the fields below. "idle" and "deadline"
// are milliseconds (deadline is absolute unix ms, 0 = none).
const (
	fieldData     = "data"
	fieldIdle     = "idle"
	fieldDeadline = "deadline"
	fieldNode     = "node"
)

// refreshLua re-arms the key expiry from its idle window, capped by the deadline.
// ARGV[1] is the caller's current unix time in milliseconds.
const refreshLua = `
local v = redis.call('HMGET', KEYS[1], 'data', 'idle', 'deadline')
if not v[1] then
  return false
end
local idle = tonumber(v[2]) or 0
local deadline = tonumber(v[3]) or 0
if deadline > 0 then
  local left = deadline - tonumber(ARGV[1])
  if left <= 0 then
    redis.call('DEL', KEYS[1])
    return false
  end
  if idle <= 0 or left < idle then
    idle = left
  end
end
if idle > 0 then
  redis.call('PEXPIRE', KEYS[1], idle)
end
`

// getScript returns the session payload and refreshes its idle expiry.
var getScript = backend.NewScript(refreshLua + `
return v[1]
`)

// touchScript refreshes the idle expiry without transferring the payload.
var touchScript = backend.NewScript(refreshLua + `
return 1
`)

// putIfAbsentScript returns the existing payload, or stores the new one and returns nil.
// ARGV: data, idle, deadline, node, expire-ms.
var putIfAbsentScript = backend.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HGET', KEYS[1], 'data')
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'idle', ARGV[2], 'deadline', ARGV[3], 'node', ARGV[4])
local ms = tonumber(ARGV[5])
if ms > 0 then
  redis.call('PEXPIRE', KEYS[1], ms)
end
return false
`)

// removeScript deletes the session and returns its payload.
var removeScript = backend.NewScript(`
local v = redis.call('HGET', KEYS[1], 'data')
if v then
  redis.call('DEL', KEYS[1])
end
return v
`)
