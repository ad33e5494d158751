package sqlinline

// QEnsureSchema creates the tables the api and worker depend on. It is
// idempotent and runs at startup.
const QEnsureSchema = `--sql d1075593-0e15-4175-a3bc-602db682ecd9
create table if not exists generation_history (
    job_id        text primary key,
    user_id       text not null,
    target        text not null,
    kind          text not null,
    origin        text not null default 'remote',
    status        text not null,
    attempts      integer not null default 0,
    error_code    text,
    error_message text,
    result_json   jsonb,
    checks        integer not null default 0,
    claimed_until timestamptz,
    created_at    timestamptz not null default now(),
    updated_at    timestamptz not null default now()
);
create index if not exists generation_history_timed_out_idx
    on generation_history (updated_at)
    where status = 'timed_out';
create index if not exists generation_history_user_idx
    on generation_history (user_id, updated_at desc);

create table if not exists generation_counters_daily (
    day                 date primary key,
    submitted           integer not null default 0,
    submission_failed   integer not null default 0,
    remote_succeeded    integer not null default 0,
    simulated_succeeded integer not null default 0,
    failed              integer not null default 0,
    timed_out           integer not null default 0,
    updated_at          timestamptz not null default now()
);

create table if not exists integration_tokens (
    id         uuid primary key default gen_random_uuid(),
    provider   text not null unique,
    token      text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

// QPing is the readiness probe used by the health endpoint.
const QPing = `--sql 0ba21225-2450-43cf-abca-0014c8e4a8b1
select 1;
`
