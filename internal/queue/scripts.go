package queue

import "github.com/redis/go-redis/v9"

// Transition scripts return 1 on success, 0 when the caller is not the active owner,
// -1 when the job is unknown and -2 when it is already terminal.

var claimScript = redis.NewScript(`
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then return false end
  local key = ARGV[1] .. id
  if redis.call('HGET', key, 'state') == 'waiting' then
    redis.call('HSET', key, 'state', 'active', 'owner', ARGV[2], 'updated_at', ARGV[4])
    redis.call('HINCRBY', key, 'attempts', 1)
    redis.call('ZADD', KEYS[2], ARGV[3], id)
    return id
  end
end
`)

var progressScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'completed' or state == 'failed' then return -2 end
if state ~= 'active' or redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then return 0 end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0') or 0
if tonumber(ARGV[2]) > cur then
  redis.call('HSET', KEYS[1], 'progress', ARGV[2])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
return 1
`)

var finishScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'completed' or state == 'failed' then return -2 end
if state ~= 'active' or redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'error', ARGV[4], 'updated_at', ARGV[5])
if ARGV[3] ~= '' then
  local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0') or 0
  if tonumber(ARGV[3]) > cur then
    redis.call('HSET', KEYS[1], 'progress', ARGV[3])
  end
end
redis.call('ZREM', KEYS[2], ARGV[6])
if ARGV[2] == 'failed' then
  redis.call('RPUSH', KEYS[3], ARGV[6])
end
if tonumber(ARGV[7]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[7])
end
return 1
`)

var leaseScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'completed' or state == 'failed' then return -2 end
if state ~= 'active' or redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then return 0 end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

var reclaimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[3]) then return 0 end
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then return 0 end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0') or 0
if attempts >= tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], 'state', 'failed', 'owner', '', 'error', 'lease expired after ' .. attempts .. ' attempts', 'updated_at', ARGV[3])
  redis.call('RPUSH', KEYS[4], ARGV[1])
  if tonumber(ARGV[4]) > 0 then
    redis.call('EXPIRE', KEYS[1], ARGV[4])
  end
  return 2
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'owner', '', 'updated_at', ARGV[3])
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)
