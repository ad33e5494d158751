package sqlinline

const QSelectIntegrationToken = `--sql 8f54963f-a9fe-4f5c-841c-f4faba7b68d9
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 0693767f-793b-4df7-a620-8bfa0020d265
insert into integration_tokens (provider, token, properties, created_at, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
