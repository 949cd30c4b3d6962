package sqlinline

const QInsertWebhookDelivery = `--sql 67a8456c-f6df-4e20-bad8-22853bb7d928
insert into webhook_deliveries(
  id,
  job_id,
  event,
  target_url,
  outcome,
  attempts,
  status_code,
  last_error,
  created_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  $4::text,
  $5::text,
  $6::int,
  $7::int,
  nullif($8::text, ''),
  $9::timestamptz
);
`
