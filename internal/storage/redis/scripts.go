package redis

const (
	// createWorkoutScript atomically stores a workout and makes it the
	// user's active one
	createWorkoutScript = `
local workout_key = KEYS[1]     -- coachsync:workout:{id}
local active_key = KEYS[2]      -- coachsync:workouts:active:{userID}
local user_index = KEYS[3]      -- coachsync:workouts:user:{userID}

local workout_id = ARGV[1]
local user_id = ARGV[2]
local name = ARGV[3]
local started_at = ARGV[4]
local score = tonumber(ARGV[5])

redis.call('HSET', workout_key,
  'id', workout_id,
  'user_id', user_id,
  'name', name,
  'started_at', started_at,
  'ended_at', ''
)

-- Last writer wins: a previous unfinished workout stays on record but is
-- no longer the active one
local previous = redis.call('GET', active_key)
redis.call('SET', active_key, workout_id)
redis.call('ZADD', user_index, score, workout_id)

if previous then
  return previous
end
return ''
`

	// finishWorkoutScript marks a workout as ended and clears the active
	// pointer if it still refers to this workout
	finishWorkoutScript = `
local workout_key = KEYS[1]     -- coachsync:workout:{id}
local active_key = KEYS[2]      -- coachsync:workouts:active:{userID}

local workout_id = ARGV[1]
local ended_at = ARGV[2]

if redis.call('EXISTS', workout_key) == 0 then
  return 'NOT_FOUND'
end

local current_end = redis.call('HGET', workout_key, 'ended_at')
if current_end and current_end ~= '' then
  return 'ALREADY_FINISHED'
end

redis.call('HSET', workout_key, 'ended_at', ended_at)

if redis.call('GET', active_key) == workout_id then
  redis.call('DEL', active_key)
end

-- Finished workouts expire after 90 days (7776000 seconds)
redis.call('EXPIRE', workout_key, 7776000)

return 'OK'
`

	// sendMessageScript atomically appends a message, updates the
	// conversation preview fields and bumps the recipient's unread count
	sendMessageScript = `
local conversation_key = KEYS[1]   -- coachsync:conversation:{id}
local messages_key = KEYS[2]       -- coachsync:conversation:{id}:messages
local unread_key = KEYS[3]         -- coachsync:conversation:{id}:unread
local sender_index = KEYS[4]       -- coachsync:conversations:user:{senderID}
local recipient_index = KEYS[5]    -- coachsync:conversations:user:{recipientID}

local conversation_id = ARGV[1]
local sender_id = ARGV[2]
local recipient_id = ARGV[3]
local body = ARGV[4]
local sent_at = ARGV[5]
local score = tonumber(ARGV[6])
local encoded = ARGV[7]
local max_messages = tonumber(ARGV[8])

redis.call('HSET', conversation_key,
  'id', conversation_id,
  'last_message', body,
  'last_message_at', sent_at,
  'last_sender_id', sender_id
)
redis.call('HSETNX', conversation_key, 'participant_a', sender_id)
redis.call('HSETNX', conversation_key, 'participant_b', recipient_id)

redis.call('RPUSH', messages_key, encoded)
if max_messages > 0 then
  redis.call('LTRIM', messages_key, -max_messages, -1)
end

local unread = redis.call('HINCRBY', unread_key, recipient_id, 1)
redis.call('HSETNX', unread_key, sender_id, 0)

redis.call('ZADD', sender_index, score, conversation_id)
redis.call('ZADD', recipient_index, score, conversation_id)

return unread
`
)
