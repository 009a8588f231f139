package sqlinline

const QCreateJobArchiveTable = `--sql 6f1d2c4e-8b3a-4e57-9c21-0d4a7e5b3f18
create table if not exists job_archive (
  id            text primary key,
  user_id       text        not null,
  prompt        text        not null,
  status        text        not null,
  failure_kind  text        not null default '',
  error_message text        not null default '',
  result        jsonb,
  created_at    timestamptz not null,
  started_at    timestamptz,
  finished_at   timestamptz
);
`

const QCreateJobArchiveUserIndex = `--sql 0b9e7a53-2f64-4c1d-a8e6-5d7c3b2a1f90
create index if not exists job_archive_user_created_idx
  on job_archive (user_id, created_at desc);
`

const QUpsertArchivedJob = `--sql c3a85e1f-7d24-4b9a-b6f0-2e8d1c5a7b43
insert into job_archive (
  id, user_id, prompt, status, failure_kind, error_message, result, created_at, started_at, finished_at
) values (
  $1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10
)
on conflict (id) do update set
  status        = excluded.status,
  failure_kind  = excluded.failure_kind,
  error_message = excluded.error_message,
  result        = excluded.result,
  started_at    = excluded.started_at,
  finished_at   = excluded.finished_at;
`

const QListArchivedJobsByUser = `--sql 9d4f2b76-1e83-4a5c-8f07-b6c3e2d1a954
select id, user_id, prompt, status, failure_kind, error_message, result, created_at, started_at, finished_at
from job_archive
where user_id = $1
order by created_at desc
limit $2;
`
