package sqlinline

const QIncrementGenerationCounters = `--sql 341e813b-75fc-4444-86f1-03fee8c879ee
insert into generation_counters_daily (
    day, submitted, submission_failed, remote_succeeded, simulated_succeeded, failed, timed_out, updated_at
) values (
    $1::date, $2::int, $3::int, $4::int, $5::int, $6::int, $7::int, now()
)
on conflict (day) do update set
    submitted = generation_counters_daily.submitted + excluded.submitted,
    submission_failed = generation_counters_daily.submission_failed + excluded.submission_failed,
    remote_succeeded = generation_counters_daily.remote_succeeded + excluded.remote_succeeded,
    simulated_succeeded = generation_counters_daily.simulated_succeeded + excluded.simulated_succeeded,
    failed = generation_counters_daily.failed + excluded.failed,
    timed_out = generation_counters_daily.timed_out + excluded.timed_out,
    updated_at = now();
`

const QLatestGenerationCounters = `--sql 553b8e71-01d1-4d16-a261-41206d09b125
select day, submitted, submission_failed, remote_succeeded, simulated_succeeded, failed, timed_out, updated_at
from generation_counters_daily
order by day desc
limit 1;
`
