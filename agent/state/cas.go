package state

// compareAndSetScript writes ARGV[2] to KEYS[1] only when the stored document's
// "version" equals ARGV[1] (absent key counts as version 0). ARGV[3] is a TTL in
// seconds, 0 for none. Returns 1 when written, 0 on conflict.
const compareAndSetScript = `
local cur = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[1])
if cur then
  local ok, decoded = pcall(cjson.decode, cur)
  local v = 0
  if ok and type(decoded) == 'table' and decoded['version'] then
    v = tonumber(decoded['version'])
  end
  if v ~= expected then
    return 0
  end
elseif expected ~= 0 then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'EX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`
