package sqlinline

const QInsertArtifact = `--sql ed2f6d67-ec3f-4eab-bfbc-83999fde7e82
insert into artifacts(
  id,
  job_id,
  user_id,
  name,
  output_url,
  storage_key,
  bytes,
  mime_type,
  width,
  height,
  fingerprint,
  extra_data,
  created_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  $4::text,
  $5::text,
  nullif($6::text, ''),
  $7::bigint,
  $8::text,
  $9::int,
  $10::int,
  nullif($11::text, ''),
  $12::jsonb,
  $13::timestamptz
);
`

const QSelectArtifactByFingerprint = `--sql d27dceb4-6d6a-4a2e-83da-f0c790a79688
select id, job_id, user_id, name, output_url, coalesce(storage_key, ''), bytes, mime_type, width, height, coalesce(fingerprint, ''), extra_data, created_at
from artifacts
where fingerprint = $1::text
order by created_at desc
limit 1;
`

const QListArtifactsByJob = `--sql ed5299f6-4f8c-4912-af08-e777f117ad0c
select id, job_id, user_id, name, output_url, coalesce(storage_key, ''), bytes, mime_type, width, height, coalesce(fingerprint, ''), extra_data, created_at
from artifacts
where job_id = $1::text
order by created_at asc, name asc;
`
