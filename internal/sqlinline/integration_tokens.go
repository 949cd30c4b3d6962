package sqlinline

const QSelectIntegrationToken = `--sql a1904245-7974-4f47-a571-be1cb1cb7820
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 73a218e7-6676-4861-959e-649273cf3d26
insert into integration_tokens(provider, token, properties, updated_at)
values ($1::text, $2::text, $3::jsonb, now())
on conflict (provider) do update
set token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
