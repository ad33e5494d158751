package sqlinline

const QUpsertGenerationHistory = `--sql 3770e6af-b30b-4549-95ce-341594457461
insert into generation_history (
    job_id, user_id, target, kind, origin, status, attempts,
    error_code, error_message, result_json, created_at, updated_at
) values (
    $1::text, $2::text, $3::text, $4::text, $5::text, $6::text, $7::int,
    nullif($8::text, ''), nullif($9::text, ''), $10::jsonb, coalesce($11::timestamptz, now()), now()
)
on conflict (job_id) do update set
    status = excluded.status,
    attempts = greatest(generation_history.attempts, excluded.attempts),
    error_code = excluded.error_code,
    error_message = excluded.error_message,
    result_json = coalesce(excluded.result_json, generation_history.result_json),
    claimed_until = null,
    updated_at = now();
`

// QClaimTimedOutGeneration leases the oldest timed out remote job for one
// reconciliation check. The lease expires on its own if the worker dies.
const QClaimTimedOutGeneration = `--sql 3b066d91-d031-41ac-9553-d7a8cc321597
with next_row as (
    select job_id
    from generation_history
    where status = 'timed_out'
      and origin = 'remote'
      and (claimed_until is null or claimed_until < now())
    order by updated_at asc
    for update skip locked
    limit 1
),
claimed as (
    update generation_history
    set checks = checks + 1,
        claimed_until = now() + make_interval(secs => $1::int)
    where job_id in (select job_id from next_row)
    returning job_id, user_id, target, kind, origin, status, attempts, checks, created_at, updated_at
)
select * from claimed;
`

const QResolveGeneration = `--sql 4d7bc227-684f-415e-9063-3858efc1db93
update generation_history
set status = $2::text,
    result_json = coalesce($3::jsonb, result_json),
    error_code = nullif($4::text, ''),
    error_message = nullif($5::text, ''),
    claimed_until = null,
    updated_at = now()
where job_id = $1::text
  and status = 'timed_out';
`
