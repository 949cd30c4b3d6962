package sqlinline

const QSelectJobByID = `--sql 7175e188-ca23-4375-9105-3c651b70a905
select
  id,
  user_id,
  job_type,
  input_urls,
  params,
  status,
  progress,
  coalesce(remote_id, ''),
  coalesce(provider, ''),
  coalesce(webhook_url, ''),
  coalesce(error_message, ''),
  attempt,
  created_at,
  started_at,
  finished_at,
  updated_at
from jobs
where id = $1::text
limit 1;
`

const QSaveJob = `--sql 48d5b51c-0264-4acb-a569-cfb38350bc9e
update jobs
set status = $2::text,
    progress = $3::int,
    remote_id = nullif($4::text, ''),
    provider = nullif($5::text, ''),
    error_message = nullif($6::text, ''),
    attempt = $7::int,
    started_at = $8::timestamptz,
    finished_at = $9::timestamptz,
    claimed_at = case when $2::text = 'pending' then null else claimed_at end,
    updated_at = now()
where id = $1::text
  and status not in ('succeeded', 'failed', 'cancelled');
`

const QSelectJobStatus = `--sql 5b8e1f3c-2d47-4a96-b0e8-71c4d9a26f05
select status
from jobs
where id = $1::text
limit 1;
`

const QClaimPendingJob = `--sql d9a95a1b-9dac-4c34-88aa-61abe0b0c6ac
with next_job as (
    select id
    from jobs
    where status = 'pending' and claimed_at is null
    order by created_at asc
    for update skip locked
    limit 1
)
update jobs
set claimed_at = now(), updated_at = now()
where id in (select id from next_job)
returning id;
`

const QInsertJob = `--sql 3f0c2a51-8d7e-4b9a-a1c6-5e2f7d9b04c8
insert into jobs(
  id,
  user_id,
  job_type,
  input_urls,
  params,
  status,
  provider,
  webhook_url,
  created_at,
  updated_at
) values (
  $1::text,
  $2::text,
  $3::text,
  $4::text[],
  $5::jsonb,
  'pending',
  nullif($6::text, ''),
  nullif($7::text, ''),
  $8::timestamptz,
  $8::timestamptz
);
`
