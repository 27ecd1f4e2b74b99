package sqlinline

// Queue SQL implements an at-least-once, visibility-timeout message queue on a
// plain Postgres table. Read is a conditional update: only messages whose
// visibility time has passed are candidates, SKIP LOCKED keeps concurrent
// readers from blocking each other, and the returned messages become invisible
// for the requested window. A message that is never deleted reappears after
// the window, which is exactly the redelivery contract the worker expects.

const QQueueSend = `--sql ae62eb14-9ee0-48fd-ad2b-58daeb0f21b2
insert into queue_messages (queue, payload, vt)
values ($1, $2::jsonb, now() + ($3 * interval '1 second'))
returning msg_id;
`

const QQueueRead = `--sql 139b2bc9-4caf-469e-b0ba-ea9fb7faeb1e
with candidates as (
    select msg_id
    from queue_messages
    where queue = $1
      and vt <= now()
    order by msg_id asc
    limit $3
    for update skip locked
)
update queue_messages m
set vt = now() + ($2 * interval '1 second'),
    read_count = m.read_count + 1
from candidates c
where m.msg_id = c.msg_id
returning m.msg_id, m.payload, m.read_count, m.enqueued_at;
`

const QQueueDelete = `--sql 55091344-284b-4b28-a8ba-2b2d0309a98f
delete from queue_messages
where queue = $1
  and msg_id = $2;
`

const QQueueOldestAge = `--sql 7b757abc-d755-45c1-a56e-10f00390581e
select coalesce(extract(epoch from now() - min(enqueued_at)), 0)
from queue_messages
where queue = $1
  and vt <= now();
`
