package sqlinline

const QSelectIntegrationToken = `--sql 43d6ee88-1927-4fc2-8515-ea5821957d36
select token
from integration_tokens
where provider = $1;
`

const QUpsertIntegrationToken = `--sql 2d24cd51-4903-4ea7-9031-0e469baf7d46
insert into integration_tokens (provider, token, properties)
values ($1, $2, $3::jsonb)
on conflict (provider) do update
set token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
